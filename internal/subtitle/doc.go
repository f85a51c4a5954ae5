// Package subtitle turns transcript segments into subtitle documents and
// serializes them as SRT or WebVTT. Assembly enforces ordering, display
// duration bounds, and 1-based cue numbering.
package subtitle
