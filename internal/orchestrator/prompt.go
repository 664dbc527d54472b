package orchestrator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/aulalabs/aula/internal/vectorstore"
	"github.com/aulalabs/aula/pkg/types"
)

// generalSystemPrompt drives the non-RAG answer path.
const generalSystemPrompt = `You are a friendly, knowledgeable tutor. Answer the student's question clearly and concisely. Spell out abbreviations in full so the answer reads well aloud. Stay consistent with the conversation so far.`

// noAnswerSentence is what the RAG prompt instructs the model to emit when
// the context does not contain the answer. Its presence in a response
// triggers the fallback to the general path.
const noAnswerSentence = "I cannot find the answer in the course material."

// ragPromptTmpl assembles the retrieval-augmented prompt. Four slots:
// course details, conversation history, retrieved context, and the question.
var ragPromptTmpl = template.Must(template.New("rag").Parse(`You are a tutor for the following course.

Course:
{{.CourseDetails}}

Conversation so far:
{{.History}}

Course material:
{{.Context}}

Question: {{.Question}}

Answer the question from the course material above when it contains the answer. If it does not, answer from your general knowledge, or say "` + noAnswerSentence + `" if you cannot. Spell out abbreviations in full so the answer reads well aloud. Keep continuity with the conversation so far.`))

type ragPromptData struct {
	CourseDetails string
	History       string
	Context       string
	Question      string
}

// composeRAGPrompt renders the retrieval prompt. Chunks are joined by blank
// lines; history is rendered one turn per line.
func composeRAGPrompt(courseID string, history []types.Message, chunks []vectorstore.ScoredChunk, question string) (string, error) {
	contexts := make([]string, len(chunks))
	for i, sc := range chunks {
		contexts[i] = sc.Content
	}

	var hist strings.Builder
	for _, m := range history {
		fmt.Fprintf(&hist, "%s: %s\n", m.Role, m.Content)
	}
	if hist.Len() == 0 {
		hist.WriteString("(no prior messages)\n")
	}

	details := "Course ID: " + courseID
	if courseID == "" {
		details = "All available courses"
	}

	var out strings.Builder
	err := ragPromptTmpl.Execute(&out, ragPromptData{
		CourseDetails: details,
		History:       hist.String(),
		Context:       strings.Join(contexts, "\n\n"),
		Question:      question,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: render prompt: %w", err)
	}
	return out.String(), nil
}

// containsNoAnswer reports whether the model declined to answer from the
// provided context.
func containsNoAnswer(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(noAnswerSentence))
}
