// Package transcribe turns staged audio into timed transcript segments.
// It owns the quality gate: low-confidence output triggers exactly one
// retry with the fallback model, after which the better result is
// accepted best-effort.
package transcribe

import (
	"context"

	"subforge/internal/modelcache"
)

// Segment is one recognized span of speech.
type Segment struct {
	StartMs    int64
	EndMs      int64
	Text       string
	Confidence float64
}

// Options tune one inference call.
type Options struct {
	Language    string
	BeamSize    int
	Temperature float64
}

// Engine runs inference against a borrowed model handle. The handle
// must not be retained past the call.
type Engine interface {
	Infer(ctx context.Context, handle modelcache.Handle, audioPath string, opts Options) ([]Segment, error)
}
