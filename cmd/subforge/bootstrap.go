package main

import (
	"log/slog"

	"subforge/internal/config"
	"subforge/internal/fetch"
	"subforge/internal/history"
	"subforge/internal/media"
	"subforge/internal/modelcache"
	"subforge/internal/mux"
	"subforge/internal/pipeline"
	"subforge/internal/progress"
	"subforge/internal/task"
	"subforge/internal/transcribe"
	"subforge/internal/translate"
)

// stack bundles the wired processing components shared by the daemon
// and the one-shot task commands.
type stack struct {
	registry    *task.Registry
	broadcaster *progress.Broadcaster
	executor    *pipeline.Executor
	store       *history.Store
	cache       *modelcache.Cache
}

func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	store, err := history.Open(cfg)
	if err != nil {
		return nil, err
	}

	engine := transcribe.NewWhisperEngine(cfg, logger)
	cache := modelcache.New(engine, int64(cfg.Whisper.CacheBudgetMB)<<20, logger)

	registry := task.NewRegistry()
	broadcaster := progress.NewBroadcaster()
	executor := pipeline.NewExecutor(cfg, registry, broadcaster, pipeline.Dependencies{
		Fetcher:     fetch.New(cfg, logger),
		Stager:      media.NewStager(cfg, logger),
		Transcriber: transcribe.New(cfg, cache, engine, logger),
		Translator:  translate.NewClient(cfg, logger),
		Muxer:       mux.NewMuxer(cfg, logger),
		History:     store,
	}, logger)

	return &stack{
		registry:    registry,
		broadcaster: broadcaster,
		executor:    executor,
		store:       store,
		cache:       cache,
	}, nil
}

func (s *stack) close() {
	s.executor.Close()
	_ = s.store.Close()
}
