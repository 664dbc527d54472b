package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aulalabs/aula/pkg/types"
)

// defaultHistoryLimit is used when History is called with limit <= 0.
const defaultHistoryLimit = 10

// AppendMessage implements [Conversations]. The message insert and the
// session activity bump commit in one transaction, so message_count can
// never drift from the stored messages. Only then is the cache updated,
// so the cache can never hold a message the database lost.
func (s *Store) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.SessionID == "" {
		return Message{}, fmt.Errorf("store: message sessionID must not be empty")
	}
	if msg.Type == "" {
		msg.Type = MessageChat
	}

	const insert = `
		INSERT INTO messages (session_id, user_id, role, content, message_type,
		                      route, metadata, tokens_used, model_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	const bump = `
		UPDATE sessions
		SET    last_activity_at = now(),
		       expires_at = now() + $2,
		       message_count = message_count + 1
		WHERE  id = $1`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, insert,
		msg.SessionID, msg.UserID, msg.Role, msg.Content, msg.Type,
		msg.Route, msg.Metadata, msg.TokensUsed, msg.ModelUsed,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}
	if _, err := tx.Exec(ctx, bump, msg.SessionID, SessionIdleExpiry); err != nil {
		return Message{}, fmt.Errorf("store: bump session activity: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("store: append message: %w", err)
	}

	if s.cache != nil {
		s.cache.append(ctx, msg.SessionID, types.Message{Role: msg.Role, Content: msg.Content})
	}
	return msg, nil
}

// History implements [Conversations]. It serves from the Redis list when
// populated and falls back to PostgreSQL on a miss, repopulating the cache
// with what it found.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	if s.cache != nil {
		if msgs, ok := s.cache.recent(ctx, sessionID, limit); ok {
			return msgs, nil
		}
	}

	msgs, err := s.historyFromDB(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(msgs) > 0 {
		s.cache.fill(ctx, sessionID, msgs)
	}
	return msgs, nil
}

// Messages returns the session's full stored messages, newest last. Used by
// the session transcript endpoint, not the prompt path.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	const q = `
		SELECT id, session_id, user_id, role, content, message_type, route,
		       metadata, tokens_used, model_used, created_at
		FROM (
		    SELECT id, session_id, user_id, role, content, message_type, route,
		           metadata, tokens_used, model_used, created_at
		    FROM   messages
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC, id DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.Type, &m.Route,
			&m.Metadata, &m.TokensUsed, &m.ModelUsed, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// historyFromDB loads the most recent limit messages in chronological order.
func (s *Store) historyFromDB(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	msgs, err := s.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = types.Message{Role: m.Role, Content: m.Content}
	}
	return out, nil
}
