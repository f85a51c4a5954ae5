package transcribe

import (
	"fmt"
	"strings"
)

const (
	minTranscriptChars = 10
	maxCuesPerMinute   = 50.0
)

// QualityReport is the gate's verdict on one transcription attempt.
type QualityReport struct {
	MeanConfidence float64
	TotalChars     int
	CuesPerMinute  float64
	Pass           bool
	Reasons        []string
}

// EvaluateQuality applies the structural and confidence checks to a
// transcription result. threshold is the minimum acceptable mean
// segment confidence.
func EvaluateQuality(segments []Segment, threshold float64) QualityReport {
	report := QualityReport{}

	if len(segments) == 0 {
		report.Reasons = append(report.Reasons, "empty transcript")
		return report
	}

	var confidenceSum float64
	var spanMs int64
	for _, seg := range segments {
		report.TotalChars += len(strings.TrimSpace(seg.Text))
		confidenceSum += seg.Confidence
	}
	report.MeanConfidence = confidenceSum / float64(len(segments))
	if last := segments[len(segments)-1].EndMs; last > segments[0].StartMs {
		spanMs = last - segments[0].StartMs
	}
	if spanMs > 0 {
		report.CuesPerMinute = float64(len(segments)) / (float64(spanMs) / 60000.0)
	}

	if report.TotalChars < minTranscriptChars {
		report.Reasons = append(report.Reasons, fmt.Sprintf("transcript too short (%d chars)", report.TotalChars))
	}
	if report.MeanConfidence < threshold {
		report.Reasons = append(report.Reasons, fmt.Sprintf("mean confidence %.2f below %.2f", report.MeanConfidence, threshold))
	}
	if report.CuesPerMinute > maxCuesPerMinute {
		report.Reasons = append(report.Reasons, fmt.Sprintf("implausible cue density %.1f/min", report.CuesPerMinute))
	}

	report.Pass = len(report.Reasons) == 0
	return report
}
