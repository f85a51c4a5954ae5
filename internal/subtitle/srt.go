package subtitle

import (
	"fmt"
	"strconv"
	"strings"

	"subforge/internal/services"
)

// FormatSRT renders the document in SubRip form: 1-based index, comma
// millisecond separator, blank line between cues, UTF-8.
func FormatSRT(doc *Document) string {
	var b strings.Builder
	for i, cue := range doc.Cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(cue.StartMs), srtTimestamp(cue.EndMs), cue.Text)
	}
	return b.String()
}

// FormatVTT renders the document as WebVTT. Identical cue layout to SRT
// except for the header, the dot millisecond separator, and no index lines.
func FormatVTT(doc *Document) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, cue := range doc.Cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			vttTimestamp(cue.StartMs), vttTimestamp(cue.EndMs), cue.Text)
	}
	return b.String()
}

func srtTimestamp(ms int64) string {
	h, m, s, rem := splitMillis(ms)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, rem)
}

func vttTimestamp(ms int64) string {
	h, m, s, rem := splitMillis(ms)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, rem)
}

func splitMillis(ms int64) (int64, int64, int64, int64) {
	if ms < 0 {
		ms = 0
	}
	return ms / 3600000, ms / 60000 % 60, ms / 1000 % 60, ms % 1000
}

// ParseSRT reads SubRip content into a document. Index lines are ignored;
// cue order and numbering are rebuilt from the timestamps. Period
// millisecond separators are tolerated.
func ParseSRT(content string) (*Document, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")
	cues := make([]Cue, 0, len(blocks))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
			continue
		}
		// Optional leading index line.
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			lines = lines[1:]
		}
		if len(lines) < 2 || !strings.Contains(lines[0], "-->") {
			return nil, services.Wrap(services.ErrValidation, "parse", "srt", fmt.Sprintf("malformed cue block %q", block), nil)
		}
		startMs, endMs, err := parseTimestampLine(lines[0])
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "parse", "srt", "", err)
		}
		text := strings.TrimSpace(strings.Join(lines[1:], "\n"))
		if text == "" {
			continue
		}
		cues = append(cues, Cue{StartMs: startMs, EndMs: endMs, Text: text})
	}
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrEmptyTranscript, "parse", "srt", "no cues in subtitle input", nil)
	}
	for i := range cues {
		cues[i].Index = i + 1
	}
	return &Document{Cues: cues}, nil
}

func parseTimestampLine(line string) (int64, int64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timestamp line %q", line)
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("cue ends before it starts in %q", line)
	}
	return start, end, nil
}

func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return int64(hours)*3600000 + int64(minutes)*60000 + int64(seconds)*1000 + int64(millis), nil
}
