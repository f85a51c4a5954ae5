// Package media stages audio for transcription. It wraps the ffmpeg
// toolchain: audio extraction to the 16 kHz mono WAV the inference
// engine expects, and ffprobe duration/metadata lookups.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/services"
)

const extractTimeout = 600 * time.Second

type commandRunner func(ctx context.Context, name string, args ...string) error

type outputRunner func(ctx context.Context, name string, args ...string) (string, error)

// Stager owns audio extraction into the work directory.
type Stager struct {
	ffmpeg  string
	ffprobe string
	workDir string
	logger  *slog.Logger
	run     commandRunner
	capture outputRunner
}

// NewStager constructs a stager from configuration.
func NewStager(cfg *config.Config, logger *slog.Logger) *Stager {
	return &Stager{
		ffmpeg:  cfg.FFmpegBinary(),
		ffprobe: cfg.FFprobeBinary(),
		workDir: cfg.Paths.WorkDir,
		logger:  logging.NewComponentLogger(logger, "media"),
		run:     defaultCommandRunner,
		capture: defaultOutputRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (s *Stager) WithCommandRunner(r func(ctx context.Context, name string, args ...string) error) {
	if s != nil && r != nil {
		s.run = r
	}
}

// WithOutputRunner allows injecting a custom ffprobe runner for tests.
func (s *Stager) WithOutputRunner(r func(ctx context.Context, name string, args ...string) (string, error)) {
	if s != nil && r != nil {
		s.capture = r
	}
}

// ExtractAudio produces a mono 16 kHz WAV from the video's audio track,
// truncated to maxDurationSeconds when positive. The returned path lives
// in the work directory; the caller owns its removal. No temp file
// survives a failed extraction.
func (s *Stager) ExtractAudio(ctx context.Context, videoPath string, maxDurationSeconds int) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", services.Wrap(services.ErrStaging, "extract", "stat", "source not readable", err)
	}
	sourceSeconds, probeErr := s.ProbeDuration(ctx, videoPath)
	if probeErr != nil {
		// Extraction still decides success; the probe only informs logging.
		s.logger.Debug("duration probe failed", logging.Error(probeErr))
	}

	dest := filepath.Join(s.workDir, "audio-"+uuid.NewString()+".wav")
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
	}
	if maxDurationSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(maxDurationSeconds))
	}
	args = append(args,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	)

	runCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	s.logger.Debug("extracting audio",
		logging.String("source", videoPath),
		logging.String("dest", dest),
		logging.Float64("source_seconds", sourceSeconds),
		logging.Int("max_duration_seconds", maxDurationSeconds),
	)
	if err := s.run(runCtx, s.ffmpeg, args...); err != nil {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrStaging, "extract", "ffmpeg", "audio extraction failed", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return "", services.Wrap(services.ErrStaging, "extract", "verify", "ffmpeg produced no output", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrStaging, "extract", "verify", "ffmpeg produced empty output", nil)
	}
	return dest, nil
}

// ProbeDuration returns the container duration in seconds.
func (s *Stager) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := s.capture(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, services.Wrap(services.ErrStaging, "probe", "ffprobe", "duration probe failed", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrStaging, "probe", "ffprobe", fmt.Sprintf("unparseable duration %q", strings.TrimSpace(out)), err)
	}
	return seconds, nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func defaultOutputRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
