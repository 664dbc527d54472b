package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSessionNotFound is returned when a session ID does not exist.
var ErrSessionNotFound = errors.New("session not found")

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations, raised when two callers race to create the active session.
const pgUniqueViolation = "23505"

// GetOrCreateSession implements [Conversations]. It first looks for an
// existing active session; when none exists it inserts one. A concurrent
// insert for the same user trips the partial unique index, in which case the
// winner's session is read back.
//
// An active session found past its expiry is ended here and a fresh one
// created, so idle sessions retire lazily on the user's next request rather
// than requiring a sweeper.
func (s *Store) GetOrCreateSession(ctx context.Context, userID, courseID string) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("store: userID must not be empty")
	}

	sess, err := s.activeSession(ctx, userID)
	if err == nil {
		if time.Now().Before(sess.ExpiresAt) {
			return sess, nil
		}
		if err := s.EndSession(ctx, sess.ID); err != nil {
			return Session{}, fmt.Errorf("store: expire idle session: %w", err)
		}
	} else if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	const insert = `
		INSERT INTO sessions (id, user_id, course_id)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, course_id, active, message_count,
		          created_at, last_activity_at, expires_at, ended_at`

	row := s.pool.QueryRow(ctx, insert, uuid.NewString(), userID, courseID)
	sess, err = scanSession(row)
	if err == nil {
		return sess, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		// Lost the race: another caller created the active session first.
		return s.activeSession(ctx, userID)
	}
	return Session{}, fmt.Errorf("store: create session: %w", err)
}

// EndSession implements [Conversations]. Ending an already-ended session is
// a no-op, not an error.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET    active = FALSE, ended_at = $2
		WHERE  id = $1 AND active`,
		sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already ended; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("store: end session: %w", err)
		}
		if !exists {
			return fmt.Errorf("store: end session %q: %w", sessionID, ErrSessionNotFound)
		}
	}
	if s.cache != nil {
		s.cache.invalidate(ctx, sessionID)
	}
	return nil
}

// GetSession returns the session with the given ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, course_id, active, message_count,
		       created_at, last_activity_at, expires_at, ended_at
		FROM   sessions
		WHERE  id = $1`,
		sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("store: session %q: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// activeSession returns the user's active session or ErrSessionNotFound.
func (s *Store) activeSession(ctx context.Context, userID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, course_id, active, message_count,
		       created_at, last_activity_at, expires_at, ended_at
		FROM   sessions
		WHERE  user_id = $1 AND active`,
		userID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: active session: %w", err)
	}
	return sess, nil
}

// scanSession scans one sessions row.
func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CourseID, &sess.Active, &sess.MessageCount,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.EndedAt)
	return sess, err
}
