package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlSessions creates the sessions table. The partial unique index is what
// enforces the one-active-session-per-user invariant; concurrent creation
// races resolve in the database, not in application code.
const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                TEXT         PRIMARY KEY,
    user_id           TEXT         NOT NULL,
    course_id         TEXT         NOT NULL DEFAULT '',
    active            BOOLEAN      NOT NULL DEFAULT TRUE,
    message_count     INT          NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at        TIMESTAMPTZ  NOT NULL DEFAULT now() + interval '7 days',
    ended_at          TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
    ON sessions (user_id) WHERE active;

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    user_id       TEXT         NOT NULL DEFAULT '',
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    message_type  TEXT         NOT NULL DEFAULT 'chat',
    route         TEXT         NOT NULL DEFAULT '',
    metadata      JSONB,
    tokens_used   INT          NOT NULL DEFAULT 0,
    model_used    TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);
`

const ddlCourses = `
CREATE TABLE IF NOT EXISTS courses (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS course_modules (
    id         TEXT  PRIMARY KEY,
    course_id  TEXT  NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
    title      TEXT  NOT NULL,
    position   INT   NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_course_modules_course
    ON course_modules (course_id, position);

CREATE TABLE IF NOT EXISTS course_lessons (
    id         TEXT  PRIMARY KEY,
    module_id  TEXT  NOT NULL REFERENCES course_modules (id) ON DELETE CASCADE,
    title      TEXT  NOT NULL,
    position   INT   NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_course_lessons_module
    ON course_lessons (module_id, position);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlMessages,
		ddlCourses,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
