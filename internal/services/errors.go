package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for stage failure classification. Stages wrap their
// errors with one of these via Wrap; the executor and API derive the
// user-visible error kind from the marker.
var (
	ErrStaging         = errors.New("staging error")
	ErrFetch           = errors.New("fetch error")
	ErrModelLoad       = errors.New("model load error")
	ErrInference       = errors.New("inference error")
	ErrTimeout         = errors.New("timeout")
	ErrEmptyTranscript = errors.New("empty transcript")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps a stage error to the short, stable error kind exposed on
// failed tasks.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	case errors.Is(err, ErrStaging):
		return "staging_error"
	case errors.Is(err, ErrModelLoad):
		return "model_load_error"
	case errors.Is(err, ErrInference):
		return "inference_error"
	case errors.Is(err, ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

// IsCancellation reports whether an error stems from context cancellation
// rather than a genuine stage failure. Deadline expiry is not cancellation;
// it classifies as a timeout.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Message returns the human-readable message for a stage error with the
// leading marker text stripped.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	for _, marker := range []error{
		ErrStaging, ErrFetch, ErrModelLoad, ErrInference, ErrTimeout,
		ErrEmptyTranscript, ErrValidation, ErrConfiguration, ErrNotFound,
		ErrTransient,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimPrefix(text, prefix)
		}
	}
	return text
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
