package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"subforge/internal/language"
	"subforge/internal/logging"
	"subforge/internal/services"
	"subforge/internal/subtitle"
	"subforge/internal/task"
	"subforge/internal/translate"
)

// state carries intermediate artifacts between stages of one task.
type state struct {
	task        task.Task
	label       string
	videoPath   string
	audioPath   string
	segments    []subtitle.Segment
	outputPath  string
	tempOutputs []string
}

type stageFunc func(ctx context.Context, st *state) error

type stage struct {
	label    string
	startPct float64
	endPct   float64
	run      stageFunc
}

func (e *Executor) stagesFor(t task.Task) []stage {
	translating := t.Input.TargetLang != ""

	switch t.Kind {
	case task.KindGenerate:
		stages := make([]stage, 0, 5)
		if t.Input.URL != "" {
			stages = append(stages, stage{"fetch", 0, 5, e.stageFetch})
		} else {
			stages = append(stages, stage{"prepare", 0, 5, stageLocalSource})
		}
		stages = append(stages,
			stage{"extract", 5, 15, e.stageExtract},
			stage{"transcribe", 15, 70, e.stageTranscribe},
		)
		if translating {
			stages = append(stages,
				stage{"translate", 70, 90, e.stageTranslate},
				stage{"assemble", 90, 100, e.stageAssembleSubtitles},
			)
		} else {
			stages = append(stages, stage{"assemble", 70, 100, e.stageAssembleSubtitles})
		}
		return stages

	case task.KindTranslate:
		return []stage{
			{"load", 0, 10, e.stageLoadSubtitles},
			{"translate", 10, 90, e.stageTranslate},
			{"assemble", 90, 100, e.stageAssembleSubtitles},
		}

	case task.KindBurn:
		stages := []stage{
			{"extract", 0, 10, func(ctx context.Context, st *state) error {
				if err := stageLocalSource(ctx, st); err != nil {
					return err
				}
				return e.stageExtract(ctx, st)
			}},
			{"transcribe", 10, 55, e.stageTranscribe},
		}
		if translating {
			stages = append(stages, stage{"translate", 55, 70, e.stageTranslate})
		}
		stages = append(stages,
			stage{"assemble", 70, 80, e.stageAssembleForBurn},
			stage{"mux", 80, 100, e.stageMux},
		)
		return stages
	}
	return nil
}

func stageLocalSource(_ context.Context, st *state) error {
	path := st.task.Input.FilePath
	if _, err := os.Stat(path); err != nil {
		return services.Wrap(services.ErrStaging, "pipeline", "source", "video file not found", err)
	}
	st.videoPath = path
	if st.label == "" {
		st.label = sanitizeLabel(stem(path))
	}
	return nil
}

func (e *Executor) stageFetch(ctx context.Context, st *state) error {
	result, err := e.deps.Fetcher.Fetch(ctx, st.task.Input.URL)
	if err != nil {
		return err
	}
	st.videoPath = result.VideoPath
	st.tempOutputs = append(st.tempOutputs, result.VideoPath)
	if st.label == "" {
		st.label = sanitizeLabel(result.Title)
	}
	return nil
}

func (e *Executor) stageExtract(ctx context.Context, st *state) error {
	audioPath, err := e.deps.Stager.ExtractAudio(ctx, st.videoPath, e.cfg.Whisper.MaxAudioSeconds)
	if err != nil {
		return err
	}
	st.audioPath = audioPath
	st.tempOutputs = append(st.tempOutputs, audioPath)
	return nil
}

func (e *Executor) stageTranscribe(ctx context.Context, st *state) error {
	outcome, err := e.deps.Transcriber.Transcribe(ctx, st.audioPath)
	if err != nil {
		return err
	}
	st.segments = make([]subtitle.Segment, 0, len(outcome.Segments))
	for _, seg := range outcome.Segments {
		st.segments = append(st.segments, subtitle.Segment{
			StartMs: seg.StartMs,
			EndMs:   seg.EndMs,
			Text:    seg.Text,
		})
	}
	e.logger.Info("transcription accepted",
		logging.String("task_id", st.task.ID),
		logging.String("model", outcome.Model),
		logging.Bool("retried", outcome.Retried),
		logging.Float64("mean_confidence", outcome.Report.MeanConfidence),
	)
	return nil
}

func (e *Executor) stageLoadSubtitles(_ context.Context, st *state) error {
	path := st.task.Input.SubtitlePath
	content, err := os.ReadFile(path)
	if err != nil {
		return services.Wrap(services.ErrStaging, "pipeline", "load", "read subtitle file", err)
	}
	doc, err := subtitle.ParseSRT(string(content))
	if err != nil {
		return err
	}
	st.segments = make([]subtitle.Segment, 0, len(doc.Cues))
	for _, cue := range doc.Cues {
		st.segments = append(st.segments, subtitle.Segment{
			StartMs: cue.StartMs,
			EndMs:   cue.EndMs,
			Text:    cue.Text,
		})
	}
	if st.label == "" {
		st.label = sanitizeLabel(stem(path))
	}
	return nil
}

// stageTranslate rewrites segment text in place. Chunk failures keep
// the original text and never fail the task.
func (e *Executor) stageTranslate(ctx context.Context, st *state) error {
	results, err := e.deps.Translator.TranslateBatch(ctx, translate.Texts(st.segments), st.task.Input.TargetLang)
	if err != nil {
		if services.IsCancellation(err) || ctx.Err() != nil {
			return err
		}
		e.logger.Warn("translation unavailable, keeping source text",
			logging.String("task_id", st.task.ID),
			logging.Error(err),
		)
		return nil
	}
	translated := translate.Apply(st.segments, results, e.cfg.Subtitles.Bilingual)
	e.logger.Info("translation applied",
		logging.String("task_id", st.task.ID),
		logging.String("language", language.DisplayName(st.task.Input.TargetLang)),
		logging.Int("translated", translated),
		logging.Int("total", len(st.segments)),
	)
	return nil
}

func (e *Executor) stageAssembleSubtitles(_ context.Context, st *state) error {
	path, err := e.writeSubtitleFile(st, e.cfg.Paths.OutputDir, e.subtitleFileName(st))
	if err != nil {
		return err
	}
	st.outputPath = path
	return nil
}

// stageAssembleForBurn writes the subtitle file into the work directory;
// it only feeds the mux stage and is removed afterwards.
func (e *Executor) stageAssembleForBurn(_ context.Context, st *state) error {
	path, err := e.writeSubtitleFile(st, e.cfg.Paths.WorkDir, st.task.ID+".srt")
	if err != nil {
		return err
	}
	st.tempOutputs = append(st.tempOutputs, path)
	st.outputPath = path
	return nil
}

func (e *Executor) stageMux(ctx context.Context, st *state) error {
	ext := filepath.Ext(st.videoPath)
	if ext == "" {
		ext = ".mp4"
	}
	outputPath := filepath.Join(e.cfg.Paths.OutputDir, st.label+"_subtitled"+ext)
	if err := e.deps.Muxer.Burn(ctx, st.videoPath, st.outputPath, outputPath); err != nil {
		return err
	}
	st.outputPath = outputPath
	return nil
}

func (e *Executor) writeSubtitleFile(st *state, dir, name string) (string, error) {
	opts := subtitle.AssembleOptions{
		MinDisplayMillis: int64(e.cfg.Subtitles.MinDisplayMillis),
		MaxDisplayMillis: int64(e.cfg.Subtitles.MaxDisplaySecs) * 1000,
	}
	doc, err := subtitle.Assemble(st.segments, opts)
	if err != nil {
		return "", err
	}

	var content string
	if strings.EqualFold(e.cfg.Subtitles.Format, "vtt") {
		content = subtitle.FormatVTT(doc)
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".vtt"
	} else {
		content = subtitle.FormatSRT(doc)
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".srt"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStaging, "pipeline", "assemble", "create output directory", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", services.Wrap(services.ErrStaging, "pipeline", "assemble", "write subtitle file", err)
	}
	return path, nil
}

func (e *Executor) subtitleFileName(st *state) string {
	label := st.label
	if label == "" {
		label = st.task.ID
	}
	if st.task.Kind == task.KindTranslate {
		return label + "_" + st.task.Input.TargetLang + ".srt"
	}
	return label + "_subtitles.srt"
}

func (e *Executor) cleanupArtifacts(st *state) {
	for _, path := range st.tempOutputs {
		if path == "" || path == st.outputPath {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("remove intermediate file",
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
	st.tempOutputs = nil
}

func deriveSourceLabel(input task.Input) string {
	switch {
	case input.FilePath != "":
		return sanitizeLabel(stem(input.FilePath))
	case input.SubtitlePath != "":
		return sanitizeLabel(stem(input.SubtitlePath))
	}
	// URL sources get their label from the download title after fetch.
	return ""
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// sanitizeLabel keeps download titles usable as filenames.
func sanitizeLabel(title string) string {
	title = strings.TrimSpace(title)
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || r == 0:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	const maxLabel = 120
	if len(cleaned) > maxLabel {
		// Cut on a rune boundary so multi-byte titles stay valid UTF-8.
		cut := maxLabel
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}
