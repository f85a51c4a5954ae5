// Package language normalizes user-supplied language identifiers into
// the ISO 639-1 codes whisper and the translation API expect.
package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Full-word spellings and bibliographic 3-letter codes that BCP 47
// parsing does not accept.
var words = map[string]string{
	"ger":        "de",
	"fre":        "fr",
	"dut":        "nl",
	"chi":        "zh",
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Normalize resolves a language name, 2-letter code, 3-letter code, or
// BCP 47 tag to an ISO 639-1 code. Returns "" when nothing matches.
func Normalize(input string) string {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return ""
	}
	if code, ok := words[trimmed]; ok {
		return code
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	code := base.String()
	// Base.String returns the 3-letter code when no 2-letter form exists;
	// whisper only understands 2-letter codes.
	if len(code) != 2 {
		return ""
	}
	return code
}

// DisplayName returns the English name for a normalized code, or the
// uppercased input when the code is unknown. Used in logs and prompts.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "Unknown"
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToUpper(trimmed)
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return strings.ToUpper(trimmed)
	}
	return name
}
