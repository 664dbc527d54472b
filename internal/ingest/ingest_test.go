package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aulalabs/aula/internal/jobs"
	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/internal/vectorstore"
	vsmock "github.com/aulalabs/aula/internal/vectorstore/mock"
	"github.com/aulalabs/aula/pkg/provider/embeddings"
	embmock "github.com/aulalabs/aula/pkg/provider/embeddings/mock"
	"github.com/aulalabs/aula/pkg/provider/llm"
	llmmock "github.com/aulalabs/aula/pkg/provider/llm/mock"
)

const outlineJSON = `{"title":"Intro to Biology","description":"Cell basics","modules":[` +
	`{"week":1,"title":"Cells","topics":[` +
	`{"title":"Cell Structure","content":"Cells have membranes and organelles."},` +
	`{"title":"Mitosis","content":"Cell division proceeds in phases."}]},` +
	`{"week":2,"title":"Genetics","topics":[` +
	`{"title":"DNA","content":"DNA encodes genes."}]}]}`

type fakeCourses struct {
	mu        sync.Mutex
	trees     map[string]store.CourseTree
	deleted   []string
	createErr error
}

func newFakeCourses() *fakeCourses {
	return &fakeCourses{trees: map[string]store.CourseTree{}}
}

func (f *fakeCourses) CreateCourseTree(_ context.Context, tree store.CourseTree) (store.CourseTree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return store.CourseTree{}, f.createErr
	}
	f.trees[tree.ID] = tree
	return tree, nil
}

func (f *fakeCourses) DeleteCourse(_ context.Context, courseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, courseID)
	if _, ok := f.trees[courseID]; !ok {
		return fmt.Errorf("fake: course %q: %w", courseID, store.ErrCourseNotFound)
	}
	delete(f.trees, courseID)
	return nil
}

func (f *fakeCourses) tree(courseID string) (store.CourseTree, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trees[courseID]
	return t, ok
}

// budgetEmbedder fails EmbedBatch after allow successful calls.
type budgetEmbedder struct {
	embeddings.Provider
	mu    sync.Mutex
	allow int
}

func (b *budgetEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.allow--
	allow := b.allow
	b.mu.Unlock()
	if allow < 0 {
		return nil, errors.New("embedding backend unavailable")
	}
	return b.Provider.EmbedBatch(ctx, texts)
}

func txtFile(name, content string) File {
	return File{Name: name, Data: base64.StdEncoding.EncodeToString([]byte(content))}
}

func newFixture() (*Pipeline, *vsmock.Store, *fakeCourses, *llmmock.Provider) {
	chunks := vsmock.NewStore()
	courses := newFakeCourses()
	model := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: outlineJSON},
	}
	embedder := &embmock.Provider{
		EmbedFunc: func(string) []float32 { return []float32{1, 0} },
	}
	pipe := New(model, embedder, chunks, courses)
	return pipe, chunks, courses, model
}

func TestPipelineIngestsTextFile(t *testing.T) {
	pipe, chunks, courses, _ := newFixture()

	var progress []int
	res, err := pipe.Run(context.Background(), Request{
		Files: []File{txtFile("biology.txt", "Cells are the basic unit of life. They divide by mitosis.")},
	}, func(pct int, _ string) { progress = append(progress, pct) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.CourseID == "" {
		t.Fatal("no course ID assigned")
	}
	if res.ModuleCount != 2 || res.TopicCount != 3 {
		t.Errorf("counts = %d modules, %d topics, want 2 and 3", res.ModuleCount, res.TopicCount)
	}
	if res.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", res.ChunkCount)
	}

	tree, ok := courses.tree(res.CourseID)
	if !ok {
		t.Fatal("course tree not persisted")
	}
	if got := tree.Modules[0].Title; got != "Week 1: Cells" {
		t.Errorf("module title = %q", got)
	}
	if got := tree.Modules[0].Lessons; len(got) != 2 || got[0] != "Cell Structure" {
		t.Errorf("lessons = %v", got)
	}

	// Document chunk plus one per generated topic summary.
	n, _ := chunks.Count(context.Background(), res.CourseID)
	if n != 4 {
		t.Errorf("stored chunks = %d, want 4", n)
	}

	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
}

func TestPipelineStampsChunkMetadata(t *testing.T) {
	pipe, chunks, _, _ := newFixture()

	res, err := pipe.Run(context.Background(), Request{
		Files:       []File{txtFile("biology.txt", "Cells are the basic unit of life. They divide by mitosis.")},
		CourseTitle: "Intro to Biology",
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored, err := chunks.Peek(context.Background(), res.CourseID, 10)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}

	var doc, topic *vectorstore.Chunk
	for i := range stored {
		switch stored[i].Source {
		case "biology.txt":
			doc = &stored[i]
		case "course_outline":
			if stored[i].Title == "Cell Structure" {
				topic = &stored[i]
			}
		}
	}

	if doc == nil {
		t.Fatal("no chunk stored for the uploaded document")
	}
	if doc.CourseName != "Intro to Biology" || doc.Module != "biology.txt" {
		t.Errorf("document chunk metadata = %q/%q", doc.CourseName, doc.Module)
	}
	if doc.Type != vectorstore.ChunkTypeCourseContent {
		t.Errorf("document chunk type = %q, want %q", doc.Type, vectorstore.ChunkTypeCourseContent)
	}

	if topic == nil {
		t.Fatal("no chunk stored for the generated topic")
	}
	if topic.CourseName != "Intro to Biology" || topic.Module != "Cells" || topic.Week != 1 {
		t.Errorf("topic chunk metadata = %q/%q/week %d, want Intro to Biology/Cells/week 1",
			topic.CourseName, topic.Module, topic.Week)
	}
	if topic.Type != vectorstore.ChunkTypeCourseContent {
		t.Errorf("topic chunk type = %q, want %q", topic.Type, vectorstore.ChunkTypeCourseContent)
	}
}

func TestPipelineRefusesDuplicateCourse(t *testing.T) {
	pipe, chunks, _, _ := newFixture()
	ctx := context.Background()

	req := Request{
		CourseID: "course-1",
		Files:    []File{txtFile("notes.txt", "Some course notes about cells.")},
	}
	if _, err := pipe.Run(ctx, req, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	if _, err := pipe.Run(ctx, req, nil); !errors.Is(err, ErrDuplicateCourse) {
		t.Fatalf("second Run err = %v, want ErrDuplicateCourse", err)
	}

	before, _ := chunks.Count(ctx, "course-1")
	req.Force = true
	res, err := pipe.Run(ctx, req, nil)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	after, _ := chunks.Count(ctx, "course-1")
	if after != before {
		t.Errorf("forced re-ingestion left %d chunks, want %d", after, before)
	}
	if res.CourseID != "course-1" {
		t.Errorf("course ID = %q", res.CourseID)
	}
}

func TestPipelineRollsBackOnIndexFailure(t *testing.T) {
	chunks := vsmock.NewStore()
	courses := newFakeCourses()
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: outlineJSON}}
	inner := &embmock.Provider{EmbedFunc: func(string) []float32 { return []float32{1, 0} }}
	// One batch for the document chunks; the first topic-index batch fails.
	pipe := New(model, &budgetEmbedder{Provider: inner, allow: 1}, chunks, courses)

	_, err := pipe.Run(context.Background(), Request{
		CourseID: "course-9",
		Files:    []File{txtFile("notes.txt", "Some course notes about cells.")},
	}, nil)
	if err == nil {
		t.Fatal("Run succeeded, want index failure")
	}

	if _, ok := courses.tree("course-9"); ok {
		t.Error("course record survived a failed ingestion")
	}
	if len(courses.deleted) == 0 {
		t.Error("rollback never deleted the course")
	}
}

func TestPipelineRejectsBadOutline(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no json", "Here is your outline!"},
		{"missing title", `{"modules":[{"title":"Cells"}]}`},
		{"no modules", `{"title":"Biology","modules":[]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipe, _, courses, model := newFixture()
			model.CompleteResponse = &llm.CompletionResponse{Content: tc.reply}

			_, err := pipe.Run(context.Background(), Request{
				Files: []File{txtFile("notes.txt", "Some course notes.")},
			}, nil)
			if err == nil {
				t.Fatal("Run succeeded with unusable outline")
			}
			if len(courses.trees) != 0 {
				t.Error("course persisted despite outline failure")
			}
		})
	}
}

func TestPipelineCourseTitleOverride(t *testing.T) {
	pipe, _, courses, _ := newFixture()

	res, err := pipe.Run(context.Background(), Request{
		CourseTitle: "Biology 101",
		Files:       []File{txtFile("notes.txt", "Some course notes about cells.")},
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tree, _ := courses.tree(res.CourseID)
	if tree.Title != "Biology 101" {
		t.Errorf("title = %q, want request override", tree.Title)
	}
}

func TestPipelineInputValidation(t *testing.T) {
	pipe, _, _, _ := newFixture()
	ctx := context.Background()

	if _, err := pipe.Run(ctx, Request{}, nil); err == nil {
		t.Error("empty request accepted")
	}

	_, err := pipe.Run(ctx, Request{Files: []File{{Name: "slides.docx", Data: "aGk="}}}, nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("docx err = %v, want ErrUnsupportedFormat", err)
	}

	if _, err := pipe.Run(ctx, Request{Files: []File{{Name: "notes.txt", Data: "not-base64!!"}}}, nil); err == nil {
		t.Error("bad base64 accepted")
	}

	if _, err := pipe.Run(ctx, Request{Files: []File{txtFile("notes.txt", "   ")}}, nil); err == nil {
		t.Error("whitespace-only document accepted")
	}
}

func TestHandlerRunsPipeline(t *testing.T) {
	pipe, _, _, _ := newFixture()
	h := NewHandler(pipe)

	if h.Type() != TaskTypePDF {
		t.Fatalf("type = %q", h.Type())
	}

	payload, _ := json.Marshal(Request{
		Files: []File{txtFile("notes.txt", "Some course notes about cells.")},
	})
	var reports int
	raw, err := h.Run(context.Background(), jobs.Task{Payload: payload}, func(int, string) { reports++ })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if res.ModuleCount != 2 {
		t.Errorf("module count = %d", res.ModuleCount)
	}
	if reports == 0 {
		t.Error("no progress forwarded")
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	pipe, _, _, _ := newFixture()
	if _, err := NewHandler(pipe).Run(context.Background(), jobs.Task{Payload: []byte("{")}, nil); err == nil {
		t.Fatal("bad payload accepted")
	}
}

func TestSplitTokens(t *testing.T) {
	words := make([]string, 12)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	text := strings.Join(words, " ")

	chunks := SplitTokens(text, 5, 2, 800)
	want := []string{
		"w0 w1 w2 w3 w4",
		"w3 w4 w5 w6 w7",
		"w6 w7 w8 w9 w10",
		"w9 w10 w11",
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestSplitTokensEdgeCases(t *testing.T) {
	if got := SplitTokens("", 500, 100, 800); got != nil {
		t.Errorf("empty text = %v, want nil", got)
	}
	if got := SplitTokens("one two", 500, 100, 800); len(got) != 1 || got[0] != "one two" {
		t.Errorf("short text = %v", got)
	}

	// The hard cap bounds the chunk size even when size asks for more.
	text := strings.Repeat("x ", 20)
	for _, c := range SplitTokens(text, 500, 0, 4) {
		if n := len(strings.Fields(c)); n > 4 {
			t.Fatalf("chunk has %d tokens, cap is 4", n)
		}
	}

	// Degenerate overlap still makes forward progress.
	got := SplitTokens(strings.Repeat("y ", 30), 10, 10, 800)
	if len(got) == 0 || len(got) > 6 {
		t.Fatalf("degenerate overlap produced %d chunks", len(got))
	}
}

func TestExtractText(t *testing.T) {
	if got, err := extractText("notes.txt", []byte("plain text")); err != nil || got != "plain text" {
		t.Errorf("txt = %q, %v", got, err)
	}
	if _, err := extractText("deck.pptx", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pptx err = %v", err)
	}
	if _, err := extractText("broken.pdf", []byte("not a pdf at all")); err == nil {
		t.Error("malformed pdf accepted")
	}
}

func TestParseSkeletonToleratesWrapping(t *testing.T) {
	wrapped := "Sure! Here is the outline:\n```json\n" + outlineJSON + "\n```\nLet me know."
	sk, err := parseSkeleton(wrapped)
	if err != nil {
		t.Fatalf("parseSkeleton: %v", err)
	}
	if sk.Title != "Intro to Biology" || len(sk.Modules) != 2 {
		t.Errorf("parsed %+v", sk)
	}
}

func TestExcerptCutsAtTokenBoundary(t *testing.T) {
	out := excerpt([]string{strings.Repeat("alpha ", 100)}, 32)
	if len(out) > 32 {
		t.Fatalf("excerpt length %d over limit", len(out))
	}
	if strings.HasSuffix(out, " ") || !strings.HasSuffix(out, "alpha") {
		t.Errorf("excerpt cut mid-token: %q", out)
	}
}
