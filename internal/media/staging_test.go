package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subforge/internal/config"
	"subforge/internal/media"
	"subforge/internal/services"
	"subforge/internal/testsupport"
)

// newStager stubs the ffprobe runner so extraction tests never shell out.
func newStager(t *testing.T) (*media.Stager, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	stager := media.NewStager(cfg, nil)
	stager.WithOutputRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		return "42.0", nil
	})
	return stager, cfg
}

func writeSourceVideo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestExtractAudioBuildsExpectedCommand(t *testing.T) {
	stager, cfg := newStager(t)
	source := writeSourceVideo(t, t.TempDir())

	var gotName string
	var gotArgs []string
	stager.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		// ffmpeg writes the destination file; emulate that.
		return os.WriteFile(args[len(args)-1], []byte("RIFFdata"), 0o644)
	})

	audioPath, err := stager.ExtractAudio(context.Background(), source, 120)
	if err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	defer os.Remove(audioPath)

	if gotName != "ffmpeg" {
		t.Fatalf("unexpected binary: %q", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-vn", "-ac 1", "-ar 16000", "-c:a pcm_s16le", "-t 120", "-i " + source} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in args: %v", want, gotArgs)
		}
	}
	if !strings.HasPrefix(audioPath, cfg.Paths.WorkDir) {
		t.Fatalf("audio not staged in work dir: %q", audioPath)
	}
	if !strings.HasSuffix(audioPath, ".wav") {
		t.Fatalf("expected wav output, got %q", audioPath)
	}
}

func TestExtractAudioOmitsTruncationWhenUnbounded(t *testing.T) {
	stager, _ := newStager(t)
	source := writeSourceVideo(t, t.TempDir())

	var gotArgs []string
	stager.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		return os.WriteFile(args[len(args)-1], []byte("RIFFdata"), 0o644)
	})

	audioPath, err := stager.ExtractAudio(context.Background(), source, 0)
	if err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	defer os.Remove(audioPath)
	for _, arg := range gotArgs {
		if arg == "-t" {
			t.Fatalf("unexpected truncation flag in %v", gotArgs)
		}
	}
}

func TestExtractAudioFailureLeavesNoTempFile(t *testing.T) {
	stager, cfg := newStager(t)
	source := writeSourceVideo(t, t.TempDir())

	stager.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		// Simulate ffmpeg writing a partial file, then failing.
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return errors.New("codec error")
	})

	_, err := stager.ExtractAudio(context.Background(), source, 0)
	if !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error, got %v", err)
	}
	leftovers, globErr := filepath.Glob(filepath.Join(cfg.Paths.WorkDir, "audio-*.wav"))
	if globErr != nil {
		t.Fatalf("glob failed: %v", globErr)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files leaked on failure: %v", leftovers)
	}
}

func TestExtractAudioMissingSource(t *testing.T) {
	stager, _ := newStager(t)

	_, err := stager.ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), 0)
	if !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error for missing source, got %v", err)
	}
}

func TestProbeDuration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stager := media.NewStager(cfg, nil)
	stager.WithOutputRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		if name != "ffprobe" {
			t.Fatalf("unexpected binary: %q", name)
		}
		return "123.45\n", nil
	})

	seconds, err := stager.ProbeDuration(context.Background(), "/in/video.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}
	if seconds != 123.45 {
		t.Fatalf("unexpected duration: %v", seconds)
	}

	stager.WithOutputRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		return "N/A", nil
	})
	if _, err := stager.ProbeDuration(context.Background(), "/in/video.mp4"); !errors.Is(err, services.ErrStaging) {
		t.Fatalf("expected staging error for unparseable duration, got %v", err)
	}
}
