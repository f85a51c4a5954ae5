package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"subforge/internal/services"
)

// ErrAlreadyTerminal is returned by RequestCancel when the task has
// already settled.
var ErrAlreadyTerminal = errors.New("task already terminal")

type record struct {
	task            Task
	cancelRequested bool
	cancel          context.CancelFunc
}

// Registry is the concurrency-safe map of all live tasks. Status and
// progress mutation goes through its methods; the pipeline executor is
// the only caller of the mutating ones.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record), now: time.Now}
}

// Create allocates a new pending task and returns a copy of it.
func (r *Registry) Create(kind Kind, input Input) Task {
	t := Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Status:     StatusPending,
		StageLabel: "queued",
		Input:      input,
		CreatedAt:  r.now(),
	}
	r.mu.Lock()
	r.records[t.ID] = &record{task: t}
	r.mu.Unlock()
	return t
}

// Get returns a copy of the task or a not-found error.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Task{}, services.Wrap(services.ErrNotFound, "registry", "get", "unknown task "+id, nil)
	}
	return rec.task, nil
}

// List returns copies of all tasks ordered by creation time.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Running returns copies of all tasks currently in the running state.
func (r *Registry) Running() []Task {
	out := r.List()
	filtered := out[:0]
	for _, t := range out {
		if t.Status == StatusRunning {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// RequestCancel flags the task for cooperative cancellation and aborts
// its in-flight external call, if any. The flag does not itself change
// task state; the executor settles the task at the next checkpoint.
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "registry", "cancel", "unknown task "+id, nil)
	}
	if rec.task.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	rec.cancelRequested = true
	if rec.cancel != nil {
		rec.cancel()
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested.
func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return ok && rec.cancelRequested
}

// AttachCancel registers the context cancel function for a starting
// task so RequestCancel can abort in-flight work. If cancellation was
// requested before the task started, the function is invoked at once.
func (r *Registry) AttachCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok {
		rec.cancel = cancel
	}
	requested := ok && rec.cancelRequested
	r.mu.Unlock()
	if requested {
		cancel()
	}
}

// Start moves a pending task to running.
func (r *Registry) Start(id string) error {
	return r.mutate(id, func(t *Task) {
		t.Status = StatusRunning
	})
}

// SetProgress updates progress and stage label for a running task.
// Progress never decreases and stays below 100 until completion.
func (r *Registry) SetProgress(id string, progress float64, stageLabel string) error {
	return r.mutate(id, func(t *Task) {
		if progress > t.Progress {
			if progress > 99.9 {
				progress = 99.9
			}
			t.Progress = progress
		}
		if stageLabel != "" {
			t.StageLabel = stageLabel
		}
	})
}

// Complete settles a task as completed with its output artifact.
func (r *Registry) Complete(id, outputPath string) error {
	return r.mutate(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = 100
		t.OutputPath = outputPath
		t.StageLabel = "completed"
		t.FinishedAt = r.now()
	})
}

// Fail settles a task as failed with a classified error.
func (r *Registry) Fail(id, kind, message string) error {
	return r.mutate(id, func(t *Task) {
		t.Status = StatusFailed
		t.Err = &Error{Kind: kind, Message: message}
		t.StageLabel = "failed"
		t.FinishedAt = r.now()
	})
}

// Cancel settles a task as cancelled. Cancelled tasks carry no error.
func (r *Registry) Cancel(id string) error {
	return r.mutate(id, func(t *Task) {
		t.Status = StatusCancelled
		t.Err = nil
		t.StageLabel = "cancelled"
		t.FinishedAt = r.now()
	})
}

// Cleanup removes terminal tasks that settled before the retention
// window and returns their ids so callers can release per-task
// resources such as progress streams.
func (r *Registry) Cleanup(olderThan time.Duration) []string {
	cutoff := r.now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, rec := range r.records {
		if rec.task.Status.IsTerminal() && rec.task.FinishedAt.Before(cutoff) {
			delete(r.records, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (r *Registry) mutate(id string, fn func(*Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return services.Wrap(services.ErrNotFound, "registry", "update", "unknown task "+id, nil)
	}
	if rec.task.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	fn(&rec.task)
	return nil
}
