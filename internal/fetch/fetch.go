// Package fetch downloads remote videos through yt-dlp. It is a thin
// collaborator at the pipeline boundary: one attempt, no retry policy.
package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/services"
)

type outputRunner func(ctx context.Context, name string, args ...string) (string, error)

// Result describes a completed download.
type Result struct {
	VideoPath string
	// Title is the upstream display title; output filenames derive from it.
	Title string
}

// Fetcher wraps the external downloader.
type Fetcher struct {
	command string
	format  string
	timeout time.Duration
	workDir string
	logger  *slog.Logger
	run     outputRunner
}

// New constructs a fetcher from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		command: cfg.Fetch.Command,
		format:  cfg.Fetch.Format,
		timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		workDir: cfg.Paths.WorkDir,
		logger:  logging.NewComponentLogger(logger, "fetch"),
		run:     defaultOutputRunner,
	}
}

// WithOutputRunner allows injecting a custom command runner for tests.
func (f *Fetcher) WithOutputRunner(r func(ctx context.Context, name string, args ...string) (string, error)) {
	if f != nil && r != nil {
		f.run = r
	}
}

// Fetch downloads the video into the work directory and reports the
// local path plus the source title.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	if strings.TrimSpace(url) == "" {
		return Result{}, services.Wrap(services.ErrFetch, "fetch", "", "empty url", nil)
	}

	template := filepath.Join(f.workDir, "fetch-"+uuid.NewString()+".%(ext)s")
	args := []string{
		"--no-playlist",
		"--no-simulate",
		"-f", f.format,
		"-o", template,
		"--print", "after_move:filepath",
		"--print", "title",
		url,
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.Info("downloading video",
		logging.String("url", url),
		logging.String(logging.FieldEventType, "fetch_start"),
	)
	out, err := f.run(runCtx, f.command, args...)
	if err != nil {
		return Result{}, services.Wrap(services.ErrFetch, "fetch", f.command, "download failed", err)
	}

	// yt-dlp emits `--print title` when metadata is extracted, before the
	// download, and `--print after_move:filepath` once the file is in
	// place. The title therefore comes first and the path last.
	lines := nonEmptyLines(out)
	if len(lines) < 1 {
		return Result{}, services.Wrap(services.ErrFetch, "fetch", f.command, "downloader reported no file path", nil)
	}
	result := Result{VideoPath: lines[len(lines)-1]}
	if len(lines) > 1 {
		result.Title = lines[0]
	}
	if result.Title == "" {
		result.Title = strings.TrimSuffix(filepath.Base(result.VideoPath), filepath.Ext(result.VideoPath))
	}
	if _, err := os.Stat(result.VideoPath); err != nil {
		return Result{}, services.Wrap(services.ErrFetch, "fetch", f.command, "downloaded file missing", err)
	}

	f.logger.Info("download complete",
		logging.String("path", result.VideoPath),
		logging.String("title", result.Title),
		logging.String(logging.FieldEventType, "fetch_complete"),
	)
	return result, nil
}

func nonEmptyLines(out string) []string {
	raw := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func defaultOutputRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("%w: %s", err, stderr)
	}
	return string(output), nil
}
