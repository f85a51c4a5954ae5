// Package pipeline runs tasks through their stage sequence: admission,
// per-stage progress windows, quality-gated transcription, optional
// translation, and terminal state transitions. The executor is the only
// writer of task state; everything else observes through the registry
// and the progress broadcaster.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"subforge/internal/config"
	"subforge/internal/fetch"
	"subforge/internal/language"
	"subforge/internal/logging"
	"subforge/internal/progress"
	"subforge/internal/services"
	"subforge/internal/task"
	"subforge/internal/transcribe"
	"subforge/internal/translate"
)

// Fetcher downloads remote source material.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// Stager extracts normalized audio from local video.
type Stager interface {
	ExtractAudio(ctx context.Context, videoPath string, maxDurationSeconds int) (string, error)
}

// Transcriber produces quality-gated transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcribe.Outcome, error)
}

// Muxer burns a subtitle file into video.
type Muxer interface {
	Burn(ctx context.Context, videoPath, subtitlePath, outputPath string) error
}

// Recorder persists terminal task records. May be nil.
type Recorder interface {
	Record(t task.Task) error
}

// Dependencies are the stage collaborators the executor drives.
type Dependencies struct {
	Fetcher     Fetcher
	Stager      Stager
	Transcriber Transcriber
	Translator  translate.Engine
	Muxer       Muxer
	History     Recorder
}

// Executor owns task execution. One goroutine per running task;
// admission is bounded by the configured max_running_tasks.
type Executor struct {
	cfg       *config.Config
	registry  *task.Registry
	broadcast *progress.Broadcaster
	deps      Dependencies
	logger    *slog.Logger

	baseCtx  context.Context
	shutdown context.CancelFunc
	slots    chan struct{}
	wg       sync.WaitGroup
}

func NewExecutor(cfg *config.Config, registry *task.Registry, broadcaster *progress.Broadcaster, deps Dependencies, logger *slog.Logger) *Executor {
	maxRunning := cfg.Workflow.MaxRunningTasks
	if maxRunning <= 0 {
		maxRunning = 1
	}
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		registry:  registry,
		broadcast: broadcaster,
		deps:      deps,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		baseCtx:   baseCtx,
		shutdown:  shutdown,
		slots:     make(chan struct{}, maxRunning),
	}
}

// Submit validates the input, registers the task, and starts it
// asynchronously. The returned task is still Pending.
func (e *Executor) Submit(kind task.Kind, input task.Input) (task.Task, error) {
	normalized, err := normalizeInput(kind, input)
	if err != nil {
		return task.Task{}, err
	}
	t := e.registry.Create(kind, normalized)
	e.publish(t.ID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(t.ID)
	}()
	return t, nil
}

// Cancel requests cooperative cancellation of a task.
func (e *Executor) Cancel(id string) error {
	return e.registry.RequestCancel(id)
}

// Close stops accepting work, cancels running tasks, and waits for
// their goroutines to finish.
func (e *Executor) Close() {
	e.shutdown()
	e.wg.Wait()
}

func normalizeInput(kind task.Kind, input task.Input) (task.Input, error) {
	input.URL = strings.TrimSpace(input.URL)
	input.FilePath = strings.TrimSpace(input.FilePath)
	input.SubtitlePath = strings.TrimSpace(input.SubtitlePath)

	if lang := strings.TrimSpace(input.TargetLang); lang != "" {
		code := language.Normalize(lang)
		if code == "" {
			return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
				fmt.Sprintf("unrecognized target language %q", lang), nil)
		}
		input.TargetLang = code
	} else {
		input.TargetLang = ""
	}

	switch kind {
	case task.KindGenerate:
		if (input.URL == "") == (input.FilePath == "") {
			return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
				"generate requires exactly one of url or file path", nil)
		}
	case task.KindTranslate:
		if input.SubtitlePath == "" {
			return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
				"translate requires a subtitle file", nil)
		}
		if input.TargetLang == "" {
			return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
				"translate requires a target language", nil)
		}
	case task.KindBurn:
		if input.FilePath == "" {
			return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
				"burn requires a local video file", nil)
		}
	default:
		return input, services.Wrap(services.ErrValidation, "pipeline", "submit",
			fmt.Sprintf("unknown task kind %q", kind), nil)
	}

	if input.SourceLabel == "" {
		input.SourceLabel = deriveSourceLabel(input)
	}
	return input, nil
}

func (e *Executor) run(id string) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	defer cancel()
	e.registry.AttachCancel(id, cancel)

	// Admission. A cancel while queued resolves without running.
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		e.finishCancelled(id)
		return
	}
	if ctx.Err() != nil {
		e.finishCancelled(id)
		return
	}

	if err := e.registry.Start(id); err != nil {
		e.logger.Error("start task", logging.String("task_id", id), logging.Error(err))
		return
	}
	e.publish(id)

	t, err := e.registry.Get(id)
	if err != nil {
		return
	}
	e.logger.Info("task running",
		logging.String("task_id", id),
		logging.String("kind", string(t.Kind)),
	)

	ctx = services.WithTaskID(ctx, id)
	st := &state{task: t, label: t.Input.SourceLabel}
	stages := e.stagesFor(t)
	for _, stage := range stages {
		if e.cancelled(ctx, id) {
			e.cleanupArtifacts(st)
			e.finishCancelled(id)
			return
		}
		e.setProgress(id, stage.startPct, stage.label)
		stageCtx := services.WithStage(ctx, stage.label)
		logging.WithContext(stageCtx, e.logger).Debug("stage started")
		err := stage.run(stageCtx, st)
		if err != nil {
			e.cleanupArtifacts(st)
			// Cancellation wins over any other classification.
			if e.cancelled(ctx, id) || services.IsCancellation(err) {
				e.finishCancelled(id)
				return
			}
			e.finishFailed(id, stage.label, err)
			return
		}
		e.setProgress(id, stage.endPct, stage.label)
	}

	e.cleanupArtifacts(st)
	e.finishCompleted(id, st.outputPath)
}

func (e *Executor) cancelled(ctx context.Context, id string) bool {
	return ctx.Err() != nil || e.registry.CancelRequested(id)
}

func (e *Executor) setProgress(id string, pct float64, label string) {
	if err := e.registry.SetProgress(id, pct, label); err != nil {
		return
	}
	e.publish(id)
}

func (e *Executor) finishCompleted(id, outputPath string) {
	if err := e.registry.Complete(id, outputPath); err != nil {
		e.logger.Error("complete task", logging.String("task_id", id), logging.Error(err))
		return
	}
	e.logger.Info("task completed",
		logging.String("task_id", id),
		logging.String("output", outputPath),
	)
	e.finish(id)
}

func (e *Executor) finishFailed(id, stageLabel string, err error) {
	kind := services.Kind(err)
	message := services.Message(err)
	if logErr := e.registry.Fail(id, kind, message); logErr != nil {
		e.logger.Error("fail task", logging.String("task_id", id), logging.Error(logErr))
		return
	}
	e.logger.Error("task failed",
		logging.String("task_id", id),
		logging.String("stage", stageLabel),
		logging.String("error_kind", kind),
		logging.Error(err),
	)
	e.finish(id)
}

func (e *Executor) finishCancelled(id string) {
	if err := e.registry.Cancel(id); err != nil {
		if !errors.Is(err, task.ErrAlreadyTerminal) {
			e.logger.Error("cancel task", logging.String("task_id", id), logging.Error(err))
		}
		return
	}
	e.logger.Info("task cancelled", logging.String("task_id", id))
	e.finish(id)
}

// finish publishes the terminal snapshot and records history.
func (e *Executor) finish(id string) {
	e.publish(id)
	if e.deps.History == nil {
		return
	}
	t, err := e.registry.Get(id)
	if err != nil {
		return
	}
	if err := e.deps.History.Record(t); err != nil {
		e.logger.Warn("record task history", logging.String("task_id", id), logging.Error(err))
	}
}

func (e *Executor) publish(id string) {
	t, err := e.registry.Get(id)
	if err != nil {
		return
	}
	e.broadcast.Publish(progress.Snapshot{
		TaskID:     t.ID,
		Status:     t.Status,
		Progress:   t.Progress,
		StageLabel: t.StageLabel,
	})
}
