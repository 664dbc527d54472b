package orchestrator

import (
	"strings"
	"testing"
)

func TestNormalizeForSpeech(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"acronym", "AI is transforming education", "Artificial Intelligence is transforming education"},
		{"acronym with punctuation", "Let's talk about ML.", "Let's talk about Machine Learning."},
		{"percent", "Accuracy improved by 20%", "Accuracy improved by 20 percent"},
		{"ampersand", "supervised & unsupervised", "supervised and unsupervised"},
		{"untouched", "Nothing to rewrite here", "Nothing to rewrite here"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeForSpeech(tt.in); got != tt.want {
				t.Fatalf("NormalizeForSpeech(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeForSpeechLeavesEmbeddedLettersAlone(t *testing.T) {
	got := NormalizeForSpeech("MAIL and AIDS are not acronyms here")
	if strings.Contains(got, "Artificial") {
		t.Fatalf("substring acronyms must not expand: %q", got)
	}
}

func TestNormalizeForSpeechCollapsesSpaces(t *testing.T) {
	got := NormalizeForSpeech("100% certain")
	if strings.Contains(got, "  ") {
		t.Fatalf("double spaces left behind: %q", got)
	}
}
