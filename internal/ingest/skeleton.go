package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aulalabs/aula/pkg/provider/llm"
	"github.com/aulalabs/aula/pkg/types"
)

// excerptLimit caps the document text handed to the outline model. The
// chunks carry the full content; the outline only needs enough to name
// modules and topics.
const excerptLimit = 12000

const skeletonSystemPrompt = `You are a curriculum designer. Given course material, produce a structured course outline.
Respond with exactly one JSON object and nothing else, in this shape:
{"title": "...", "description": "...", "modules": [{"week": 1, "title": "...", "topics": [{"title": "...", "content": "..."}]}]}
Each topic's "content" is a short self-contained summary of that topic drawn from the material.`

// skeleton is the outline the model returns.
type skeleton struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Modules     []skeletonModule `json:"modules"`
}

type skeletonModule struct {
	Week   int             `json:"week"`
	Title  string          `json:"title"`
	Topics []skeletonTopic `json:"topics"`
}

type skeletonTopic struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// generateSkeleton makes the single outline call and parses its JSON reply.
// A course title from the request overrides whatever the model picked.
func (p *Pipeline) generateSkeleton(ctx context.Context, req Request, texts []string) (skeleton, error) {
	var prompt strings.Builder
	if req.CourseTitle != "" {
		fmt.Fprintf(&prompt, "Course title: %s\n", req.CourseTitle)
	}
	if req.Country != "" {
		fmt.Fprintf(&prompt, "Country context: %s\n", req.Country)
	}
	prompt.WriteString("Course material:\n")
	prompt.WriteString(excerpt(texts, excerptLimit))

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: skeletonSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: prompt.String()}},
		Temperature:  0.2,
	})
	if err != nil {
		return skeleton{}, fmt.Errorf("ingest: outline generation: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return skeleton{}, fmt.Errorf("ingest: outline generation returned no content")
	}

	sk, err := parseSkeleton(resp.Content)
	if err != nil {
		return skeleton{}, err
	}
	if req.CourseTitle != "" {
		sk.Title = req.CourseTitle
	}
	return sk, nil
}

// excerpt concatenates the documents up to limit bytes, cutting at a token
// boundary.
func excerpt(texts []string, limit int) string {
	joined := strings.Join(texts, "\n\n")
	if len(joined) <= limit {
		return joined
	}
	cut := joined[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// parseSkeleton tolerates markdown fences and prose around the JSON object;
// models wrap structured output despite instructions not to.
func parseSkeleton(raw string) (skeleton, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return skeleton{}, fmt.Errorf("ingest: outline reply contains no JSON object")
	}

	var sk skeleton
	if err := json.Unmarshal([]byte(raw[start:end+1]), &sk); err != nil {
		return skeleton{}, fmt.Errorf("ingest: parse outline: %w", err)
	}
	if sk.Title == "" {
		return skeleton{}, fmt.Errorf("ingest: outline has no title")
	}
	if len(sk.Modules) == 0 {
		return skeleton{}, fmt.Errorf("ingest: outline has no modules")
	}
	for _, m := range sk.Modules {
		if m.Title == "" {
			return skeleton{}, fmt.Errorf("ingest: outline module has no title")
		}
	}
	return sk, nil
}
