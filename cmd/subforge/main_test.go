package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout, "subforge ") {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	stdout, _, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout, target) {
		t.Fatalf("output should mention target path: %q", stdout)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[whisper]") {
		t.Fatalf("sample missing whisper section: %q", data)
	}

	// Without --overwrite a second init must refuse.
	if _, _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config already exists")
	}
	if _, _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite init: %v", err)
	}
}

func TestConfigShowMasksAPIKey(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")
	content := `[paths]
work_dir = "` + filepath.Join(base, "work") + `"
output_dir = "` + filepath.Join(base, "out") + `"
log_dir = "` + filepath.Join(base, "logs") + `"

[translation]
api_key = "super-secret"
`
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCLI(t, "--config", target, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(stdout, "super-secret") {
		t.Fatal("api key must be masked in show output")
	}
	if !strings.Contains(stdout, "********") {
		t.Fatalf("expected masked key in output: %q", stdout)
	}
}

func TestDepsRendersTables(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")
	content := `[paths]
work_dir = "` + filepath.Join(base, "work") + `"
output_dir = "` + filepath.Join(base, "out") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
`
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// The command may fail when required binaries are absent; the
	// tables still render either way.
	stdout, _, _ := runCLI(t, "--config", target, "deps")
	// go-pretty upper-cases header cells.
	for _, header := range []string{"DEPENDENCY", "STATUS", "CHECK"} {
		if !strings.Contains(stdout, header) {
			t.Fatalf("missing %q in deps output: %q", header, stdout)
		}
	}
	if !strings.Contains(stdout, "FFmpeg") {
		t.Fatalf("deps output should list ffmpeg: %q", stdout)
	}
}

func TestGenerateRejectsBadLanguage(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")
	content := `[paths]
work_dir = "` + filepath.Join(base, "work") + `"
output_dir = "` + filepath.Join(base, "out") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
`
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	video := filepath.Join(base, "clip.mp4")
	if err := os.WriteFile(video, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := runCLI(t, "--config", target, "generate", video, "--lang", "klingon")
	if err == nil {
		t.Fatal("expected error for unknown language")
	}
	if !strings.Contains(err.Error(), "language") {
		t.Fatalf("unexpected error: %v", err)
	}
}
