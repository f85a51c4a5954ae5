package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"subforge/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	base := errors.New("ffmpeg exited 1")
	err := services.Wrap(services.ErrStaging, "extract", "run ffmpeg", "audio extraction failed", base)
	if !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
}

func TestWrapWithoutMarkerUsesTransient(t *testing.T) {
	err := services.Wrap(nil, "stage", "", "something odd", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"staging", services.Wrap(services.ErrStaging, "extract", "", "bad input", nil), "staging_error"},
		{"model load", services.Wrap(services.ErrModelLoad, "transcribe", "load model", "", nil), "model_load_error"},
		{"inference", services.Wrap(services.ErrInference, "transcribe", "", "decode failed", nil), "inference_error"},
		{"timeout marker", services.Wrap(services.ErrTimeout, "translate", "", "deadline", nil), "timeout"},
		{"deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), "cancelled"},
		{"empty transcript", services.ErrEmptyTranscript, "empty_transcript"},
		{"unknown", errors.New("boom"), "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsCancellationDistinguishesTimeout(t *testing.T) {
	if !services.IsCancellation(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatal("expected context.Canceled to count as cancellation")
	}
	if services.IsCancellation(context.DeadlineExceeded) {
		t.Fatal("deadline expiry must classify as timeout, not cancellation")
	}
}

func TestMessageStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrFetch, "fetch", "yt-dlp", "download failed", nil)
	if got := services.Message(err); got != "fetch: yt-dlp: download failed" {
		t.Fatalf("unexpected message %q", got)
	}
}
