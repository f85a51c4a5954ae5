package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/modelcache"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// whisperHandle pins a model variant for the CLI engine. Weights live
// in the CLI's on-disk cache; the download happens on Load so inference
// calls never pay it.
type whisperHandle struct {
	model string
}

// WhisperEngine runs the faster-whisper CLI. It implements both the
// model cache Loader and the inference Engine.
type WhisperEngine struct {
	command string
	workDir string
	logger  *slog.Logger
	run     commandRunner
}

// NewWhisperEngine constructs the CLI engine from configuration.
func NewWhisperEngine(cfg *config.Config, logger *slog.Logger) *WhisperEngine {
	return &WhisperEngine{
		command: cfg.Whisper.Command,
		workDir: cfg.Paths.WorkDir,
		logger:  logging.NewComponentLogger(logger, "whisper"),
		run:     defaultCommandRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (e *WhisperEngine) WithCommandRunner(r func(ctx context.Context, name string, args ...string) error) {
	if e != nil && r != nil {
		e.run = r
	}
}

// Load resolves the CLI binary and warms the model's weight cache by
// asking the CLI to fetch it without transcribing anything.
func (e *WhisperEngine) Load(ctx context.Context, modelKey string) (modelcache.Handle, error) {
	if _, err := exec.LookPath(e.command); err != nil {
		return nil, fmt.Errorf("locate %s: %w", e.command, err)
	}
	if err := e.run(ctx, e.command, "--model", modelKey, "--model_download_only", "true"); err != nil {
		return nil, fmt.Errorf("download model %s: %w", modelKey, err)
	}
	e.logger.Info("model ready",
		logging.String("model", modelKey),
		logging.Int64("approx_memory_bytes", modelcache.ApproxMemoryBytes(modelKey)),
	)
	return whisperHandle{model: modelKey}, nil
}

// Infer transcribes the audio file with the pinned model and parses the
// CLI's JSON output into segments.
func (e *WhisperEngine) Infer(ctx context.Context, handle modelcache.Handle, audioPath string, opts Options) ([]Segment, error) {
	wh, ok := handle.(whisperHandle)
	if !ok {
		return nil, fmt.Errorf("unexpected handle type %T", handle)
	}

	outDir := filepath.Join(e.workDir, "whisper-"+uuid.NewString())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", wh.model,
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam_size", fmt.Sprintf("%d", opts.BeamSize))
	}
	args = append(args, "--temperature", fmt.Sprintf("%g", opts.Temperature))

	if err := e.run(ctx, e.command, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", e.command, err)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outDir, base+".json")
	return loadSegments(jsonPath)
}

type whisperSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

type whisperPayload struct {
	Segments []whisperSegment `json:"segments"`
}

func loadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read transcription output: %w", err)
	}
	var payload whisperPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse transcription json: %w", err)
	}
	segments := make([]Segment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			StartMs:    int64(seg.Start * 1000),
			EndMs:      int64(seg.End * 1000),
			Text:       text,
			Confidence: confidenceFromLogprob(seg.AvgLogprob),
		})
	}
	return segments, nil
}

// confidenceFromLogprob maps the decoder's average log probability to
// a 0..1 confidence.
func confidenceFromLogprob(logprob float64) float64 {
	if logprob >= 0 {
		return 1
	}
	c := math.Exp(logprob)
	if c < 0 {
		return 0
	}
	return c
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
