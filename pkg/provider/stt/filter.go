package stt

import "strings"

// fillerTokens are bare vocalizations that carry no content. A final
// transcript consisting only of these (in any combination) is noise.
var fillerTokens = map[string]struct{}{
	"um":   {},
	"uh":   {},
	"uhh":  {},
	"umm":  {},
	"hmm":  {},
	"hm":   {},
	"mm":   {},
	"mhm":  {},
	"ah":   {},
	"eh":   {},
	"er":   {},
	"erm":  {},
	"huh":  {},
	"haan": {},
}

// IsNoise reports whether a final transcript should be suppressed before
// emission: single-character transcripts and bare filler tokens are dropped so
// they never reach the orchestrator or the session log.
func IsNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) <= 1 {
		return true
	}

	fields := strings.Fields(strings.ToLower(trimmed))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		f = strings.Trim(f, ".,!?")
		if f == "" {
			continue
		}
		if _, ok := fillerTokens[f]; !ok {
			return false
		}
	}
	return true
}
