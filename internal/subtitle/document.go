package subtitle

// Cue is a single subtitle entry. Index is 1-based within a Document.
type Cue struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

// DurationMs returns the display duration of the cue.
func (c Cue) DurationMs() int64 {
	return c.EndMs - c.StartMs
}

// Document is an ordered collection of non-overlapping cues.
type Document struct {
	Cues []Cue
}

// Segment is the assembler's input: a timed span of recognized text.
type Segment struct {
	StartMs int64
	EndMs   int64
	Text    string
}
