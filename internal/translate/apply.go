package translate

import "subforge/internal/subtitle"

// Apply writes translation results back onto the segments that produced
// them. In bilingual mode the translation is appended on a new line
// under the source text. Untranslated results leave the segment alone.
// Returns how many segments were actually translated.
func Apply(segments []subtitle.Segment, results []Result, bilingual bool) int {
	translated := 0
	for i := range segments {
		if i >= len(results) || !results[i].Translated {
			continue
		}
		if bilingual {
			segments[i].Text = segments[i].Text + "\n" + results[i].Text
		} else {
			segments[i].Text = results[i].Text
		}
		translated++
	}
	return translated
}

// Texts collects segment texts in order, for handing to an Engine.
func Texts(segments []subtitle.Segment) []string {
	texts := make([]string, len(segments))
	for i, segment := range segments {
		texts[i] = segment.Text
	}
	return texts
}
