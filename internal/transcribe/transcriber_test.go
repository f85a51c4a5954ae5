package transcribe_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"subforge/internal/modelcache"
	"subforge/internal/services"
	"subforge/internal/testsupport"
	"subforge/internal/transcribe"
)

type fakeEngine struct {
	mu      sync.Mutex
	infers  []string // model per call
	results map[string][]transcribe.Segment
	errs    map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results: make(map[string][]transcribe.Segment),
		errs:    make(map[string]error),
	}
}

func (e *fakeEngine) Load(ctx context.Context, modelKey string) (modelcache.Handle, error) {
	return modelKey, nil
}

func (e *fakeEngine) Infer(ctx context.Context, handle modelcache.Handle, audioPath string, opts transcribe.Options) ([]transcribe.Segment, error) {
	model := handle.(string)
	e.mu.Lock()
	e.infers = append(e.infers, model)
	e.mu.Unlock()
	if err := e.errs[model]; err != nil {
		return nil, err
	}
	return e.results[model], nil
}

func (e *fakeEngine) inferCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.infers)
}

func goodSegments() []transcribe.Segment {
	return []transcribe.Segment{
		{StartMs: 0, EndMs: 3000, Text: "A solid first segment here.", Confidence: 0.9},
		{StartMs: 3000, EndMs: 6000, Text: "A solid second segment.", Confidence: 0.85},
		{StartMs: 6000, EndMs: 9000, Text: "And a closing third one.", Confidence: 0.9},
	}
}

func lowConfidenceSegments() []transcribe.Segment {
	segs := goodSegments()
	segs[1].Confidence = 0.1
	segs[0].Confidence = 0.4
	segs[2].Confidence = 0.4
	return segs
}

func newTranscriber(t *testing.T, engine *fakeEngine) *transcribe.Transcriber {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cache := modelcache.New(engine, 8<<30, nil)
	return transcribe.New(cfg, cache, engine, nil)
}

func TestTranscribePassesGateFirstTry(t *testing.T) {
	engine := newFakeEngine()
	engine.results["small"] = goodSegments()
	tr := newTranscriber(t, engine)

	outcome, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if outcome.Retried {
		t.Fatal("no retry expected when the gate passes")
	}
	if outcome.Model != "small" {
		t.Fatalf("unexpected model: %q", outcome.Model)
	}
	if engine.inferCount() != 1 {
		t.Fatalf("expected 1 inference, got %d", engine.inferCount())
	}
}

func TestTranscribeRetriesOnceWithFallback(t *testing.T) {
	engine := newFakeEngine()
	engine.results["small"] = lowConfidenceSegments()
	engine.results["medium"] = goodSegments()
	tr := newTranscriber(t, engine)

	outcome, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !outcome.Retried {
		t.Fatal("expected a fallback retry")
	}
	if outcome.Model != "medium" {
		t.Fatalf("expected fallback result accepted, got %q", outcome.Model)
	}
	if !outcome.Report.Pass {
		t.Fatalf("expected retry to pass the gate: %+v", outcome.Report)
	}
	if engine.inferCount() != 2 {
		t.Fatalf("expected exactly one retry (2 inferences), got %d", engine.inferCount())
	}
}

func TestTranscribeAcceptsBestEffortWhenRetryAlsoFails(t *testing.T) {
	engine := newFakeEngine()
	engine.results["small"] = lowConfidenceSegments()
	worse := lowConfidenceSegments()
	for i := range worse {
		worse[i].Confidence = 0.05
	}
	engine.results["medium"] = worse
	tr := newTranscriber(t, engine)

	outcome, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !outcome.Retried {
		t.Fatal("expected a retry attempt")
	}
	if outcome.Model != "small" {
		t.Fatalf("expected better-scoring first attempt kept, got %q", outcome.Model)
	}
	if outcome.Report.Pass {
		t.Fatal("gate should still report failure")
	}
	if engine.inferCount() != 2 {
		t.Fatalf("expected exactly 2 inferences, got %d", engine.inferCount())
	}
}

func TestTranscribeFallbackErrorKeepsFirstAttempt(t *testing.T) {
	engine := newFakeEngine()
	engine.results["small"] = lowConfidenceSegments()
	engine.errs["medium"] = errors.New("decoder crashed")
	tr := newTranscriber(t, engine)

	outcome, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if err != nil {
		t.Fatalf("expected absorbed fallback failure, got %v", err)
	}
	if outcome.Model != "small" {
		t.Fatalf("expected first attempt kept, got %q", outcome.Model)
	}
}

func TestTranscribeInferenceErrorFailsTask(t *testing.T) {
	engine := newFakeEngine()
	engine.errs["small"] = errors.New("model exploded")
	tr := newTranscriber(t, engine)

	_, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if !errors.Is(err, services.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
}

func TestTranscribeCancellationWinsOverRetry(t *testing.T) {
	engine := newFakeEngine()
	engine.results["small"] = lowConfidenceSegments()
	engine.errs["medium"] = context.Canceled
	tr := newTranscriber(t, engine)

	_, err := tr.Transcribe(context.Background(), "/work/audio.wav")
	if !services.IsCancellation(err) {
		t.Fatalf("expected cancellation to propagate, got %v", err)
	}
}
