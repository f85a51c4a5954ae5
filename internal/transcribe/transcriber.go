package transcribe

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/modelcache"
	"subforge/internal/services"
)

const (
	defaultBeamSize = 5
	// The retry decodes more carefully than the first pass.
	fallbackBeamSize = 8
)

// Outcome is the accepted transcription plus gate telemetry.
type Outcome struct {
	Segments []Segment
	Model    string
	Report   QualityReport
	Retried  bool
}

// Transcriber drives the engine through the model cache and the
// quality gate.
type Transcriber struct {
	cache     *modelcache.Cache
	engine    Engine
	primary   string
	fallback  string
	language  string
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger
}

// New constructs a transcriber from configuration.
func New(cfg *config.Config, cache *modelcache.Cache, engine Engine, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		cache:     cache,
		engine:    engine,
		primary:   cfg.Whisper.Model,
		fallback:  cfg.Whisper.FallbackModel,
		language:  cfg.Whisper.Language,
		threshold: cfg.Whisper.QualityThreshold,
		timeout:   time.Duration(cfg.Whisper.TimeoutSeconds) * time.Second,
		logger:    logging.NewComponentLogger(logger, "transcribe"),
	}
}

// Transcribe runs the primary model, gates the result, and retries once
// with the fallback model when the gate rejects. The better-scoring
// attempt wins; a second gate failure is absorbed, not fatal.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (Outcome, error) {
	segments, err := t.attempt(ctx, audioPath, t.primary, Options{
		Language: t.language,
		BeamSize: defaultBeamSize,
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{
		Segments: segments,
		Model:    t.primary,
		Report:   EvaluateQuality(segments, t.threshold),
	}
	if outcome.Report.Pass || t.fallback == "" || t.fallback == t.primary {
		return outcome, nil
	}

	t.logger.Warn("quality gate rejected transcription, retrying with fallback model",
		logging.String("model", t.primary),
		logging.String("fallback", t.fallback),
		logging.Float64("mean_confidence", outcome.Report.MeanConfidence),
		logging.Any("reasons", outcome.Report.Reasons),
	)

	retrySegments, err := t.attempt(ctx, audioPath, t.fallback, Options{
		Language:    t.language,
		BeamSize:    fallbackBeamSize,
		Temperature: 0,
	})
	if err != nil {
		// Cancellation and timeouts end the task; ordinary retry
		// failures fall back to the first attempt's output.
		if services.IsCancellation(err) || errors.Is(err, services.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, err
		}
		t.logger.Warn("fallback transcription failed, keeping first attempt",
			logging.String("fallback", t.fallback),
			logging.Error(err),
		)
		outcome.Retried = true
		return outcome, nil
	}

	retryReport := EvaluateQuality(retrySegments, t.threshold)
	if retryReport.Pass || retryReport.MeanConfidence > outcome.Report.MeanConfidence {
		outcome = Outcome{Segments: retrySegments, Model: t.fallback, Report: retryReport}
	}
	outcome.Retried = true
	if !outcome.Report.Pass {
		t.logger.Warn("quality gate still failing after retry, accepting best effort",
			logging.String("model", outcome.Model),
			logging.Float64("mean_confidence", outcome.Report.MeanConfidence),
		)
	}
	return outcome, nil
}

func (t *Transcriber) attempt(ctx context.Context, audioPath, model string, opts Options) ([]Segment, error) {
	handle, overBudget, err := t.cache.Borrow(ctx, model)
	if err != nil {
		return nil, err
	}
	defer t.cache.Release(model)
	if overBudget {
		t.logger.Warn("model cache exceeded its budget",
			logging.String("model", model),
		)
	}

	inferCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	segments, err := t.engine.Infer(inferCtx, handle, audioPath, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, services.Wrap(services.ErrTimeout, "transcribe", "infer", "inference exceeded "+t.timeout.String(), err)
		}
		if services.IsCancellation(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrInference, "transcribe", "infer", "model "+model, err)
	}
	return segments, nil
}
