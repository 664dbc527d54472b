package orchestrator

import "strings"

// acronymSpellings expands abbreviations a speech synthesizer would mangle.
// Applied on whole-token matches only, so "AIDS" is never touched by "AI".
var acronymSpellings = map[string]string{
	"AI":   "Artificial Intelligence",
	"ML":   "Machine Learning",
	"NLP":  "Natural Language Processing",
	"API":  "A P I",
	"CPU":  "C P U",
	"GPU":  "G P U",
	"URL":  "U R L",
	"SQL":  "S Q L",
	"HTML": "H T M L",
	"HTTP": "H T T P",
	"FAQ":  "frequently asked questions",
	"IoT":  "Internet of Things",
}

// symbolReplacer spells out symbols by plain substring replacement after
// the token pass.
var symbolReplacer = strings.NewReplacer(
	"%", " percent ",
	"&", " and ",
	"+", " plus ",
	"=", " equals ",
	"°C", " degrees Celsius ",
	"°F", " degrees Fahrenheit ",
	"@", " at ",
	"#", " number ",
	"~", " approximately ",
)

// NormalizeForSpeech rewrites acronyms and symbols into spellings a TTS
// engine pronounces correctly. Applied to every outward answer, spoken or
// not, so chat and voice transcripts stay identical.
func NormalizeForSpeech(text string) string {
	if text == "" {
		return text
	}

	fields := strings.Fields(text)
	for i, f := range fields {
		core := strings.Trim(f, ".,!?;:()\"'")
		if spelled, ok := acronymSpellings[core]; ok {
			fields[i] = strings.Replace(f, core, spelled, 1)
		}
	}
	out := strings.Join(fields, " ")

	out = symbolReplacer.Replace(out)

	// Substitutions can leave doubled spaces behind.
	for strings.Contains(out, "  ") {
		out = strings.ReplaceAll(out, "  ", " ")
	}
	return strings.TrimSpace(out)
}
