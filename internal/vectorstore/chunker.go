package vectorstore

import (
	"fmt"
	"strings"
)

// Section is a titled piece of course content ready for embedding.
type Section struct {
	Title   string
	Content string
}

// SplitContent breaks a titled block of course content into sections that
// each fit within [MaxChunkBytes].
//
// Content at or under the cap passes through unchanged. Oversized content is
// split on paragraph boundaries ("\n\n") first; a paragraph that alone
// exceeds the cap is further split on sentence boundaries (". "). When the
// block is split, each part's title gains a "(Part n)" suffix so retrieved
// chunks remain attributable to their source section.
func SplitContent(title, content string) []Section {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= MaxChunkBytes {
		return []Section{{Title: title, Content: content}}
	}

	var parts []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		pieces := []string{para}
		if len(para) > MaxChunkBytes {
			pieces = splitSentences(para)
		}

		for _, piece := range pieces {
			// +2 accounts for the paragraph separator re-inserted on join.
			if current.Len() > 0 && current.Len()+len(piece)+2 > MaxChunkBytes {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()

	if len(parts) == 1 {
		return []Section{{Title: title, Content: parts[0]}}
	}

	sections := make([]Section, 0, len(parts))
	for i, p := range parts {
		sections = append(sections, Section{
			Title:   fmt.Sprintf("%s (Part %d)", title, i+1),
			Content: p,
		})
	}
	return sections
}

// splitSentences splits an oversized paragraph on sentence boundaries,
// packing sentences into pieces that fit the cap. A single sentence larger
// than the cap is hard-split on byte boundaries as a last resort.
func splitSentences(para string) []string {
	sentences := strings.SplitAfter(para, ". ")

	var pieces []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, s := range sentences {
		if len(s) > MaxChunkBytes {
			flush()
			for len(s) > MaxChunkBytes {
				pieces = append(pieces, s[:MaxChunkBytes])
				s = s[MaxChunkBytes:]
			}
			if strings.TrimSpace(s) != "" {
				current.WriteString(s)
			}
			continue
		}
		if current.Len()+len(s) > MaxChunkBytes {
			flush()
		}
		current.WriteString(s)
	}
	flush()

	return pieces
}
