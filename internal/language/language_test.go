package language_test

import (
	"testing"

	"subforge/internal/language"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"en", "en"},
		{"EN", "en"},
		{" Spanish ", "es"},
		{"fra", "fr"},
		{"deu", "de"},
		{"ger", "de"},
		{"pt-BR", "pt"},
		{"japanese", "ja"},
		{"", ""},
		{"klingon", ""},
		{"x1!", ""},
	}
	for _, tc := range cases {
		if got := language.Normalize(tc.input); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := language.DisplayName("es"); got != "Spanish" {
		t.Errorf("DisplayName(es) = %q", got)
	}
	if got := language.DisplayName(""); got != "Unknown" {
		t.Errorf("DisplayName(empty) = %q", got)
	}
}
