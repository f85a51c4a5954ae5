// Package mux burns subtitle files into video with ffmpeg.
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/services"
)

const burnTimeout = 30 * time.Minute

type commandRunner func(ctx context.Context, name string, args ...string) error

// Muxer renders subtitles into the video stream, producing a new file
// next to the requested output path.
type Muxer struct {
	ffmpeg string
	logger *slog.Logger
	run    commandRunner
}

func NewMuxer(cfg *config.Config, logger *slog.Logger) *Muxer {
	return &Muxer{
		ffmpeg: cfg.FFmpegBinary(),
		logger: logging.NewComponentLogger(logger, "mux"),
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner replaces process execution, for tests.
func (m *Muxer) WithCommandRunner(run commandRunner) *Muxer {
	if run != nil {
		m.run = run
	}
	return m
}

// Burn re-encodes videoPath with subtitlePath rendered into the
// picture and writes the result to outputPath. The encode goes to a
// temp file first so a failed run never leaves a partial output.
func (m *Muxer) Burn(ctx context.Context, videoPath, subtitlePath, outputPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return services.Wrap(services.ErrStaging, "mux", "burn", "video not found", err)
	}
	if _, err := os.Stat(subtitlePath); err != nil {
		return services.Wrap(services.ErrStaging, "mux", "burn", "subtitle file not found", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return services.Wrap(services.ErrStaging, "mux", "burn", "create output directory", err)
	}

	tempPath := tempOutputPath(outputPath)
	defer os.Remove(tempPath)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", "subtitles=" + escapeFilterPath(subtitlePath),
		"-c:a", "copy",
		tempPath,
	}

	runCtx, cancel := context.WithTimeout(ctx, burnTimeout)
	defer cancel()

	start := time.Now()
	m.logger.Info("burning subtitles",
		logging.String("video", videoPath),
		logging.String("subtitles", subtitlePath),
	)
	if err := m.run(runCtx, m.ffmpeg, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, "mux", "burn", "ffmpeg timed out", err)
		}
		return services.Wrap(services.ErrStaging, "mux", "burn", "ffmpeg failed", err)
	}

	info, err := os.Stat(tempPath)
	if err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrStaging, "mux", "burn", "ffmpeg produced no output", err)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		return services.Wrap(services.ErrStaging, "mux", "burn", "move output into place", err)
	}

	m.logger.Info("burn complete",
		logging.String("output", outputPath),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// tempOutputPath keeps the container extension so ffmpeg can infer
// the output format.
func tempOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+".tmp"+ext)
}

// escapeFilterPath quotes characters the ffmpeg filter parser treats
// specially (colons separate filter options).
func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
		`;`, `\;`,
	)
	return replacer.Replace(path)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, detail)
	}
	return nil
}
