package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal tasks never
// change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Kind selects the stage sequence a task runs.
type Kind string

const (
	KindGenerate  Kind = "generate"
	KindTranslate Kind = "translate"
	KindBurn      Kind = "burn"
)

// ParseKind validates a user-supplied kind string.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindGenerate, KindTranslate, KindBurn:
		return Kind(value), true
	}
	return "", false
}

// Input describes the source material for a task. Exactly one of URL or
// FilePath is set for generate/burn tasks; SubtitlePath is set for
// translate tasks.
type Input struct {
	URL          string
	FilePath     string
	SubtitlePath string
	TargetLang   string
	// SourceLabel is the display name derived from the original file or
	// download title; output filenames are built from it.
	SourceLabel string
}

// Error carries the user-visible failure classification for a failed task.
type Error struct {
	Kind    string
	Message string
}

// Task is one unit of subtitle work. Progress is 0..100 and
// non-decreasing while running; it reaches 100 only on completion.
// Err is set only on failed tasks.
type Task struct {
	ID         string
	Kind       Kind
	Status     Status
	Progress   float64
	StageLabel string
	Input      Input
	OutputPath string
	Err        *Error
	CreatedAt  time.Time
	FinishedAt time.Time
}
