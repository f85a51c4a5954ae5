package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"subforge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SUBFORGE_TRANSLATION_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "subforge", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7833" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Whisper.Model != "small" {
		t.Fatalf("unexpected default model: %q", cfg.Whisper.Model)
	}
	if cfg.Whisper.FallbackModel != "medium" {
		t.Fatalf("unexpected fallback model: %q", cfg.Whisper.FallbackModel)
	}
	if cfg.Whisper.QualityThreshold != 0.5 {
		t.Fatalf("unexpected quality threshold: %v", cfg.Whisper.QualityThreshold)
	}
	if cfg.Subtitles.Format != "srt" {
		t.Fatalf("unexpected subtitle format: %q", cfg.Subtitles.Format)
	}
	if cfg.Subtitles.Bilingual {
		t.Fatal("expected bilingual disabled by default")
	}
	if cfg.Workflow.MaxRunningTasks != 2 {
		t.Fatalf("unexpected max running tasks: %d", cfg.Workflow.MaxRunningTasks)
	}
	if cfg.Workflow.TaskRetentionHours != 24 {
		t.Fatalf("unexpected retention: %d", cfg.Workflow.TaskRetentionHours)
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.WorkDir, "history.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.OutputDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subforge.toml")

	type payload struct {
		Whisper struct {
			Model            string  `toml:"model"`
			QualityThreshold float64 `toml:"quality_threshold"`
		} `toml:"whisper"`
		Subtitles struct {
			Format    string `toml:"format"`
			Bilingual bool   `toml:"bilingual"`
		} `toml:"subtitles"`
		Workflow struct {
			MaxRunningTasks int `toml:"max_running_tasks"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.Whisper.Model = "Large-V3"
	custom.Whisper.QualityThreshold = 0.4
	custom.Subtitles.Format = "vtt"
	custom.Subtitles.Bilingual = true
	custom.Workflow.MaxRunningTasks = 4
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Whisper.Model != "large-v3" {
		t.Fatalf("expected model normalized to large-v3, got %q", cfg.Whisper.Model)
	}
	if cfg.Whisper.QualityThreshold != 0.4 {
		t.Fatalf("expected threshold 0.4, got %v", cfg.Whisper.QualityThreshold)
	}
	if cfg.Subtitles.Format != "vtt" {
		t.Fatalf("expected vtt format, got %q", cfg.Subtitles.Format)
	}
	if !cfg.Subtitles.Bilingual {
		t.Fatal("expected bilingual enabled")
	}
	if cfg.Workflow.MaxRunningTasks != 4 {
		t.Fatalf("expected max running tasks 4, got %d", cfg.Workflow.MaxRunningTasks)
	}
}

func TestEnvVarFillsTranslationAPIKey(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SUBFORGE_TRANSLATION_API_KEY", "env-key")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Translation.APIKey != "env-key" {
		t.Fatalf("expected translation key from env, got %q", cfg.Translation.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[whisper]") {
		t.Fatalf("sample config missing whisper section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Whisper.Model != "small" {
		t.Fatalf("sample model mismatch: %q", cfg.Whisper.Model)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Whisper.Model = "enormous"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown model")
	}

	cfg = config.Default()
	cfg.Whisper.QualityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}

	cfg = config.Default()
	cfg.Subtitles.Format = "ass"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported format")
	}

	cfg = config.Default()
	cfg.Workflow.MaxRunningTasks = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive admission limit")
	}

	cfg = config.Default()
	cfg.Subtitles.MinDisplayMillis = 8000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min display exceeds max display")
	}
}
