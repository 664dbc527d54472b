package vectorstore

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitContentSmallPassthrough(t *testing.T) {
	sections := SplitContent("Derivatives", "The derivative measures rate of change.")
	if len(sections) != 1 {
		t.Fatalf("len(sections) = %d, want 1", len(sections))
	}
	if sections[0].Title != "Derivatives" {
		t.Errorf("title = %q, want unchanged", sections[0].Title)
	}
	if sections[0].Content != "The derivative measures rate of change." {
		t.Errorf("content modified: %q", sections[0].Content)
	}
}

func TestSplitContentEmpty(t *testing.T) {
	if got := SplitContent("T", "   \n  "); got != nil {
		t.Errorf("SplitContent on whitespace = %v, want nil", got)
	}
}

func TestSplitContentParagraphs(t *testing.T) {
	para := strings.Repeat("Calculus is the study of continuous change. ", 200) // ~8.8KB
	content := para + "\n\n" + para + "\n\n" + para                             // ~26KB total

	sections := SplitContent("Chapter 1", content)
	if len(sections) < 2 {
		t.Fatalf("len(sections) = %d, want >= 2", len(sections))
	}

	for i, sec := range sections {
		if len(sec.Content) > MaxChunkBytes {
			t.Errorf("section %d is %d bytes, exceeds cap %d", i, len(sec.Content), MaxChunkBytes)
		}
		want := fmt.Sprintf("Chapter 1 (Part %d)", i+1)
		if sec.Title != want {
			t.Errorf("section %d title = %q, want %q", i, sec.Title, want)
		}
	}
}

func TestSplitContentOversizedParagraph(t *testing.T) {
	// A single paragraph over the cap must fall back to sentence splitting.
	content := strings.Repeat("Integration reverses differentiation. ", 600) // ~23KB, no "\n\n"

	sections := SplitContent("Integrals", content)
	if len(sections) < 2 {
		t.Fatalf("len(sections) = %d, want >= 2", len(sections))
	}
	for i, sec := range sections {
		if len(sec.Content) > MaxChunkBytes {
			t.Errorf("section %d is %d bytes, exceeds cap", i, len(sec.Content))
		}
	}
}

func TestSplitContentGiantSentence(t *testing.T) {
	// No sentence or paragraph boundaries at all: hard byte split.
	content := strings.Repeat("x", MaxChunkBytes*2+100)

	sections := SplitContent("Raw", content)
	if len(sections) < 3 {
		t.Fatalf("len(sections) = %d, want >= 3", len(sections))
	}
	var total int
	for i, sec := range sections {
		if len(sec.Content) > MaxChunkBytes {
			t.Errorf("section %d is %d bytes, exceeds cap", i, len(sec.Content))
		}
		total += len(sec.Content)
	}
	if total != len(content) {
		t.Errorf("total bytes = %d, want %d (no content lost)", total, len(content))
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("course-1", "Module", "Title", 0)
	b := ChunkID("course-1", "Module", "Title", 0)
	if a != b {
		t.Error("same tuple produced different IDs")
	}
	if ChunkID("course-2", "Module", "Title", 0) == a {
		t.Error("different course produced same ID")
	}
	if ChunkID("course-1", "Other", "Title", 0) == a {
		t.Error("different module produced same ID")
	}
	if ChunkID("course-1", "Module", "Other", 0) == a {
		t.Error("different title produced same ID")
	}
	if ChunkID("course-1", "Module", "Title", 1) == a {
		t.Error("different index produced same ID")
	}
	// Field boundaries must matter: ("ab","c") != ("a","bc").
	if ChunkID("course-1", "ab", "c", 0) == ChunkID("course-1", "a", "bc", 0) {
		t.Error("field boundary collision")
	}
}
