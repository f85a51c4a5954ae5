package mux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/testsupport"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBurnBuildsFFmpegArgsAndRenames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mp4")
	subs := filepath.Join(dir, "movie.srt")
	output := filepath.Join(dir, "out", "movie_subtitled.mp4")
	writeFile(t, video, "video")
	writeFile(t, subs, "1\n00:00:00,000 --> 00:00:01,000\nhi\n\n")

	var gotName string
	var gotArgs []string
	muxer := NewMuxer(cfg, logging.NewNop()).WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		// Runner writes the temp output like ffmpeg would.
		return os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644)
	})

	if err := muxer.Burn(context.Background(), video, subs, output); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if gotName != "ffmpeg" {
		t.Fatalf("expected ffmpeg, got %q", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-vf subtitles=") {
		t.Fatalf("missing subtitles filter in args: %v", gotArgs)
	}
	if !strings.Contains(joined, "-c:a copy") {
		t.Fatalf("missing audio copy in args: %v", gotArgs)
	}
	temp := gotArgs[len(gotArgs)-1]
	if filepath.Ext(temp) != ".mp4" {
		t.Fatalf("temp output should keep container extension, got %q", temp)
	}
	if _, err := os.Stat(temp); !os.IsNotExist(err) {
		t.Fatalf("temp file should be renamed away: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil || string(data) != "encoded" {
		t.Fatalf("output not in place: %v %q", err, data)
	}
}

func TestBurnFailureLeavesNoOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mp4")
	subs := filepath.Join(dir, "movie.srt")
	output := filepath.Join(dir, "movie_subtitled.mp4")
	writeFile(t, video, "video")
	writeFile(t, subs, "subs")

	muxer := NewMuxer(cfg, logging.NewNop()).WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("encoder exploded")
	})

	err := muxer.Burn(context.Background(), video, subs, output)
	if !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error, got %v", err)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatal("failed burn must not leave an output file")
	}
}

func TestBurnMissingInputs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mp4")
	writeFile(t, video, "video")

	muxer := NewMuxer(cfg, logging.NewNop()).WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		t.Fatal("runner should not be invoked")
		return nil
	})

	if err := muxer.Burn(context.Background(), filepath.Join(dir, "missing.mp4"), "x.srt", "out.mp4"); !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error for missing video, got %v", err)
	}
	if err := muxer.Burn(context.Background(), video, filepath.Join(dir, "missing.srt"), "out.mp4"); !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error for missing subtitles, got %v", err)
	}
}

func TestBurnCancellationWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mp4")
	subs := filepath.Join(dir, "movie.srt")
	writeFile(t, video, "video")
	writeFile(t, subs, "subs")

	ctx, cancel := context.WithCancel(context.Background())
	muxer := NewMuxer(cfg, logging.NewNop()).WithCommandRunner(func(runCtx context.Context, name string, args ...string) error {
		cancel()
		return runCtx.Err()
	})

	err := muxer.Burn(ctx, video, subs, filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath("/tmp/a:b's[1].srt")
	want := `/tmp/a\:b\'s\[1\].srt`
	if got != want {
		t.Fatalf("escapeFilterPath = %q, want %q", got, want)
	}
}
