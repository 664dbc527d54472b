package orchestrator

import "strings"

const (
	// minResponseLen rejects answers too short to carry content.
	minResponseLen = 10

	// windowRepeatLimit is the maximum times a 3-token window may recur
	// before the response counts as degenerate repetition.
	windowRepeatLimit = 20

	// singleCharFloor and singleCharUniqueCeil detect tokenizer breakdown in
	// non-Latin scripts: a flood of isolated characters drawn from a tiny
	// alphabet.
	singleCharFloor      = 100
	singleCharUniqueCeil = 10

	// longResponseLen and uniqueRatioFloor catch very long answers that
	// cycle through a small vocabulary.
	longResponseLen = 5000
	uniqueRatioFloor = 0.1
)

// IsGarbage reports whether an LLM response is unusable: too short,
// degenerately repetitive, a stream of isolated characters, or very long
// with almost no lexical variety. The orchestrator treats a garbage verdict
// as a signal to regenerate on the general path, never as a user-facing
// error.
func IsGarbage(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minResponseLen {
		return true
	}

	tokens := strings.Fields(trimmed)

	if repeatedWindow(tokens) {
		return true
	}
	if isolatedCharFlood(tokens) {
		return true
	}
	if len(trimmed) > longResponseLen && uniqueRatio(tokens) < uniqueRatioFloor {
		return true
	}
	return false
}

// repeatedWindow reports whether any 3-token window occurs more than
// windowRepeatLimit times.
func repeatedWindow(tokens []string) bool {
	if len(tokens) < 3 {
		return false
	}
	counts := make(map[string]int)
	for i := 0; i+3 <= len(tokens); i++ {
		key := tokens[i] + " " + tokens[i+1] + " " + tokens[i+2]
		counts[key]++
		if counts[key] > windowRepeatLimit {
			return true
		}
	}
	return false
}

// isolatedCharFlood reports whether the response is dominated by
// single-character tokens drawn from a small set.
func isolatedCharFlood(tokens []string) bool {
	count := 0
	unique := make(map[string]struct{})
	for _, tok := range tokens {
		if len([]rune(tok)) != 1 {
			continue
		}
		count++
		unique[tok] = struct{}{}
	}
	return count > singleCharFloor && len(unique) < singleCharUniqueCeil
}

// uniqueRatio is the share of distinct tokens.
func uniqueRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 1
	}
	unique := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		unique[tok] = struct{}{}
	}
	return float64(len(unique)) / float64(len(tokens))
}
