package ingest

import "strings"

// SplitTokens cuts text into chunks of roughly size whitespace tokens, with
// overlap tokens shared between neighbours so sentences straddling a cut stay
// retrievable from both sides. size is capped at max; an overlap at or above
// the effective size is reduced to half of it.
func SplitTokens(text string, size, overlap, max int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}
	if size <= 0 {
		size = chunkTokens
	}
	if size > max {
		size = max
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	step := size - overlap
	var out []string
	for start := 0; ; start += step {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			return out
		}
	}
}
