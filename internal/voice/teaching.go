package voice

import (
	"context"
	"fmt"

	"github.com/aulalabs/aula/internal/orchestrator"
	"github.com/aulalabs/aula/internal/store"
)

// teachingState tracks the session's position in a course outline.
type teachingState struct {
	tree      store.CourseTree
	moduleIdx int
	lessonIdx int
}

// currentLesson returns the lesson the cursor points at, or false when the
// outline is exhausted.
func (t *teachingState) currentLesson() (module store.ModuleTree, lesson string, ok bool) {
	for t.moduleIdx < len(t.tree.Modules) {
		mod := t.tree.Modules[t.moduleIdx]
		if t.lessonIdx < len(mod.Lessons) {
			return mod, mod.Lessons[t.lessonIdx], true
		}
		t.moduleIdx++
		t.lessonIdx = 0
	}
	return store.ModuleTree{}, "", false
}

// advance moves the cursor to the next lesson.
func (t *teachingState) advance() {
	t.lessonIdx++
}

// startTeaching loads the course outline and speaks the first segment.
func (s *session) startTeaching(ctx context.Context, in Inbound) {
	if s.ctrl.courses == nil {
		s.send(Outbound{Type: outError, Error: "teaching is not available"})
		return
	}
	courseID := in.CourseID
	if courseID == "" {
		courseID = s.courseID
	}
	if courseID == "" {
		s.send(Outbound{Type: outError, Error: "course_id is required to start a class"})
		return
	}

	tree, err := s.ctrl.courses.GetCourseTree(ctx, courseID)
	if err != nil {
		s.ctrl.logger.Warn("voice: course outline unavailable", "course_id", courseID, "error", err)
		s.send(Outbound{Type: outError, Error: "course not found"})
		return
	}

	t := &teachingState{tree: tree, moduleIdx: in.ModuleIndex, lessonIdx: in.SubTopicIndex}
	if _, _, ok := t.currentLesson(); !ok {
		s.send(Outbound{Type: outError, Error: "no lesson at the requested position"})
		return
	}

	s.mu.Lock()
	s.teaching = t
	s.courseID = courseID
	if in.Language != "" {
		s.language = in.Language
	}
	s.state = StateTeaching
	s.mu.Unlock()

	s.send(Outbound{Type: outTeachingStarted, Text: tree.Title})
	s.teachSegment(ctx)
}

// continueTeaching advances to the next lesson and speaks it.
func (s *session) continueTeaching(ctx context.Context) {
	s.mu.Lock()
	t := s.teaching
	s.mu.Unlock()
	if t == nil {
		s.send(Outbound{Type: outError, Error: "no teaching session in progress"})
		return
	}
	t.advance()
	if _, _, ok := t.currentLesson(); !ok {
		s.endTeaching()
		return
	}
	s.teachSegment(ctx)
}

// endTeaching closes the teaching loop and returns to listening.
func (s *session) endTeaching() {
	s.mu.Lock()
	active := s.teaching != nil
	s.teaching = nil
	s.state = StateListening
	s.mu.Unlock()
	if active {
		s.send(Outbound{Type: outTeachingEnded})
	} else {
		s.send(Outbound{Type: outError, Error: "no teaching session in progress"})
	}
}

// teachSegment generates and speaks the current lesson.
func (s *session) teachSegment(ctx context.Context) {
	s.mu.Lock()
	t := s.teaching
	lang := s.language
	courseID := s.courseID
	s.mu.Unlock()
	if t == nil {
		return
	}
	mod, lesson, ok := t.currentLesson()
	if !ok {
		s.endTeaching()
		return
	}

	query := fmt.Sprintf("Teach the lesson %q from the module %q of this course. Explain it step by step as if speaking to a student, and end with a short question to check understanding.", lesson, mod.Title)

	ans, err := s.ctrl.orch.Ask(ctx, orchestrator.AskRequest{
		Query:       query,
		UserID:      s.userID,
		SessionID:   s.sessionID,
		Language:    lang,
		CourseID:    courseID,
		MessageType: store.MessageVoice,
		Agent:       "teacher",
	})
	if err != nil {
		s.ctrl.logger.Error("voice: teaching segment failed", "client_id", s.clientID, "error", err)
		s.send(Outbound{Type: outError, Error: "could not prepare the lesson, please try again"})
		return
	}
	s.rememberSession(ans.SessionID)

	s.send(Outbound{Type: outAgentResponse, Text: ans.Text, Agent: "teacher"})
	s.speak(ctx, ans.Text, outTeachingAudioChunk, outTeachingSegmentComplete)
}
