package subtitle

import (
	"sort"
	"strings"
	"unicode/utf8"

	"subforge/internal/services"
)

// AssembleOptions bound cue display durations.
type AssembleOptions struct {
	MinDisplayMillis int64
	MaxDisplayMillis int64
}

// DefaultAssembleOptions mirror the sample configuration values.
func DefaultAssembleOptions() AssembleOptions {
	return AssembleOptions{MinDisplayMillis: 500, MaxDisplayMillis: 7000}
}

// Assemble converts transcript segments into a subtitle document. Segments
// with empty text are dropped; the rest are sorted, clipped so no cue
// overlaps its successor, merged or split to satisfy the display bounds,
// and renumbered from 1. An input with no usable text yields an
// ErrEmptyTranscript-tagged error.
func Assemble(segments []Segment, opts AssembleOptions) (*Document, error) {
	if opts.MinDisplayMillis <= 0 {
		opts.MinDisplayMillis = DefaultAssembleOptions().MinDisplayMillis
	}
	if opts.MaxDisplayMillis <= opts.MinDisplayMillis {
		opts.MaxDisplayMillis = DefaultAssembleOptions().MaxDisplayMillis
	}

	cues := make([]Cue, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.EndMs <= seg.StartMs {
			seg.EndMs = seg.StartMs + opts.MinDisplayMillis
		}
		cues = append(cues, Cue{StartMs: seg.StartMs, EndMs: seg.EndMs, Text: text})
	}
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrEmptyTranscript, "assemble", "", "no usable transcript segments", nil)
	}

	sort.SliceStable(cues, func(i, j int) bool { return cues[i].StartMs < cues[j].StartMs })
	clipOverlaps(cues)
	cues = mergeShort(cues, opts)
	cues = splitLong(cues, opts.MaxDisplayMillis)

	for i := range cues {
		cues[i].Index = i + 1
	}
	return &Document{Cues: cues}, nil
}

func clipOverlaps(cues []Cue) {
	for i := 0; i < len(cues)-1; i++ {
		if cues[i].EndMs > cues[i+1].StartMs {
			cues[i].EndMs = cues[i+1].StartMs
		}
	}
}

// mergeShort folds cues below the minimum display duration into a
// neighbor. The following cue is preferred; the preceding cue is the
// fallback. A zero-width cue left by overlap clipping always merges so
// every emitted cue ends after it starts; other short cues with no
// mergeable neighbor keep their timing.
func mergeShort(cues []Cue, opts AssembleOptions) []Cue {
	out := make([]Cue, 0, len(cues))
	for i := 0; i < len(cues); i++ {
		cue := cues[i]
		if cue.DurationMs() >= opts.MinDisplayMillis {
			out = append(out, cue)
			continue
		}
		if i+1 < len(cues) {
			next := cues[i+1]
			merged := Cue{
				StartMs: cue.StartMs,
				EndMs:   next.EndMs,
				Text:    cue.Text + " " + next.Text,
			}
			// A cue clipped to zero width has no display time of its
			// own; fold it forward even past the display cap and let
			// splitLong restore the bound.
			if cue.DurationMs() == 0 || merged.DurationMs() <= opts.MaxDisplayMillis {
				cues[i+1] = merged
				continue
			}
		}
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if cue.DurationMs() == 0 || cue.EndMs-prev.StartMs <= opts.MaxDisplayMillis {
				prev.EndMs = cue.EndMs
				prev.Text = prev.Text + " " + cue.Text
				continue
			}
		}
		if cue.DurationMs() == 0 {
			continue
		}
		out = append(out, cue)
	}
	return out
}

func splitLong(cues []Cue, maxMillis int64) []Cue {
	out := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		out = append(out, splitCue(cue, maxMillis)...)
	}
	return out
}

func splitCue(cue Cue, maxMillis int64) []Cue {
	if cue.DurationMs() <= maxMillis {
		return []Cue{cue}
	}
	head, tail, ok := splitText(cue.Text)
	if !ok {
		return []Cue{cue}
	}
	total := utf8.RuneCountInString(cue.Text)
	ratio := float64(utf8.RuneCountInString(head)) / float64(total)
	mid := cue.StartMs + int64(ratio*float64(cue.DurationMs()))
	if mid <= cue.StartMs || mid >= cue.EndMs {
		mid = cue.StartMs + cue.DurationMs()/2
	}
	first := Cue{StartMs: cue.StartMs, EndMs: mid, Text: head}
	second := Cue{StartMs: mid, EndMs: cue.EndMs, Text: tail}
	return append(splitCue(first, maxMillis), splitCue(second, maxMillis)...)
}

// splitText divides text near its midpoint, preferring a sentence
// boundary and falling back to a word boundary.
func splitText(text string) (string, string, bool) {
	runes := []rune(text)
	if len(runes) < 2 {
		return "", "", false
	}
	mid := len(runes) / 2

	if cut := nearestBoundary(runes, mid, isSentenceEnd); cut > 0 {
		return assembleHalves(runes, cut)
	}
	if cut := nearestBoundary(runes, mid, func(r rune) bool { return r == ' ' }); cut > 0 {
		return assembleHalves(runes, cut)
	}
	return "", "", false
}

func nearestBoundary(runes []rune, mid int, boundary func(rune) bool) int {
	best := -1
	bestDist := len(runes)
	for i, r := range runes {
		if i == 0 || i == len(runes)-1 {
			continue
		}
		if !boundary(r) {
			continue
		}
		dist := i - mid
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = i + 1
			bestDist = dist
		}
	}
	return best
}

func assembleHalves(runes []rune, cut int) (string, string, bool) {
	head := strings.TrimSpace(string(runes[:cut]))
	tail := strings.TrimSpace(string(runes[cut:]))
	if head == "" || tail == "" {
		return "", "", false
	}
	return head, tail, true
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
