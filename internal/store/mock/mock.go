// Package mock provides an in-memory Conversations implementation for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aulalabs/aula/internal/store"
	"github.com/aulalabs/aula/pkg/types"
)

// Store is an in-memory stand-in for the PostgreSQL store. The zero value is
// ready to use. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]store.Session
	messages map[string][]store.Message
	nextID   int64

	// Error injection. When set, the corresponding method returns the error
	// without touching state.
	GetOrCreateSessionErr error
	EndSessionErr         error
	AppendMessageErr      error
	HistoryErr            error

	// AppendCalls records every message passed to AppendMessage, including
	// ones rejected by AppendMessageErr.
	AppendCalls []store.Message
}

var _ store.Conversations = (*Store)(nil)

// GetOrCreateSession implements [store.Conversations].
func (m *Store) GetOrCreateSession(_ context.Context, userID, courseID string) (store.Session, error) {
	if m.GetOrCreateSessionErr != nil {
		return store.Session{}, m.GetOrCreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, sess := range m.sessions {
		if sess.UserID != userID || !sess.Active {
			continue
		}
		if now.Before(sess.ExpiresAt) {
			return sess, nil
		}
		// Idle past expiry: retire it and fall through to a fresh one.
		sess.Active = false
		sess.EndedAt = &now
		m.sessions[id] = sess
	}

	if m.sessions == nil {
		m.sessions = map[string]store.Session{}
	}
	sess := store.Session{
		ID:             fmt.Sprintf("sess-%d", len(m.sessions)+1),
		UserID:         userID,
		CourseID:       courseID,
		Active:         true,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(store.SessionIdleExpiry),
	}
	m.sessions[sess.ID] = sess
	return sess, nil
}

// EndSession implements [store.Conversations].
func (m *Store) EndSession(_ context.Context, sessionID string) error {
	if m.EndSessionErr != nil {
		return m.EndSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mock: session %q: %w", sessionID, store.ErrSessionNotFound)
	}
	if sess.Active {
		now := time.Now()
		sess.Active = false
		sess.EndedAt = &now
		m.sessions[sessionID] = sess
	}
	return nil
}

// AppendMessage implements [store.Conversations].
func (m *Store) AppendMessage(_ context.Context, msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls = append(m.AppendCalls, msg)
	if m.AppendMessageErr != nil {
		return store.Message{}, m.AppendMessageErr
	}

	m.nextID++
	msg.ID = m.nextID
	if msg.Type == "" {
		msg.Type = store.MessageChat
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if m.messages == nil {
		m.messages = map[string][]store.Message{}
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)

	if sess, ok := m.sessions[msg.SessionID]; ok {
		sess.MessageCount++
		sess.LastActivityAt = msg.CreatedAt
		sess.ExpiresAt = msg.CreatedAt.Add(store.SessionIdleExpiry)
		m.sessions[msg.SessionID] = sess
	}
	return msg, nil
}

// History implements [store.Conversations].
func (m *Store) History(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = types.Message{Role: msg.Role, Content: msg.Content}
	}
	return out, nil
}

// Messages returns everything stored for the session, oldest first.
func (m *Store) Messages(sessionID string) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out
}

// AgeSession backdates the session's expiry, letting tests exercise the
// idle-expiry path without waiting out the real window.
func (m *Store) AgeSession(sessionID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.ExpiresAt = expiresAt
		m.sessions[sessionID] = sess
	}
}

// Session returns the stored session by ID, if present.
func (m *Store) Session(sessionID string) (store.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}
