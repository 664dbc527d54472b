// Package store provides the durable conversation layer: sessions, messages,
// and the course catalogue, backed by PostgreSQL with a Redis read-through
// cache for recent message history.
//
// PostgreSQL is the source of truth. The cache accelerates the hot path
// (conversation history for prompt assembly) and is safe to lose at any
// time: a cache miss falls back to the database and repopulates.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aulalabs/aula/pkg/types"
)

// MessageType distinguishes how a message entered the system.
type MessageType string

const (
	// MessageChat is a message exchanged over the HTTP chat surface.
	MessageChat MessageType = "chat"

	// MessageVoice is a transcript or spoken answer from a voice session.
	MessageVoice MessageType = "voice"
)

// SessionIdleExpiry is how long a session may sit without a new message
// before it is considered abandoned. Appending a message pushes the
// session's expiry out by this much; a session found past its expiry is
// ended and replaced instead of reused.
const SessionIdleExpiry = 7 * 24 * time.Hour

// Session is one conversation between a user and the tutor. A user has at
// most one active session at a time; this is enforced by a partial unique
// index in the database, not by application locking.
type Session struct {
	ID             string
	UserID         string
	CourseID       string
	Active         bool
	MessageCount   int
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	EndedAt        *time.Time
}

// Message is one stored conversation turn. Metadata carries structured
// annotations that have no column of their own, such as which agent spoke
// on the voice surface.
type Message struct {
	ID         int64
	SessionID  string
	UserID     string
	Role       string
	Content    string
	Type       MessageType
	Route      string
	Metadata   map[string]any
	TokensUsed int
	ModelUsed  string
	CreatedAt  time.Time
}

// Conversations is the interface the answer pipeline and the voice
// controller depend on. *Store implements it; tests substitute a mock.
type Conversations interface {
	// GetOrCreateSession returns the user's active session, creating one if
	// none exists. Safe under concurrent calls for the same user: exactly
	// one session wins and all callers observe it.
	GetOrCreateSession(ctx context.Context, userID, courseID string) (Session, error)

	// EndSession marks the session inactive and stamps its end time.
	EndSession(ctx context.Context, sessionID string) error

	// AppendMessage durably stores the message and updates the history
	// cache. Cache failures are logged, never returned.
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// History returns the most recent limit messages of the session in
	// chronological order, served from cache when possible.
	History(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
}

// Compile-time interface check.
var _ Conversations = (*Store)(nil)

// Store is the PostgreSQL+Redis conversation store. Obtain one via [New].
// All methods are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	cache *messageCache
}

// New connects to PostgreSQL at dsn, runs migration, and wires the Redis
// client as the history cache. rdb may be nil, which disables caching.
func New(ctx context.Context, dsn string, rdb *redis.Client) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{pool: pool}
	if rdb != nil {
		s.cache = newMessageCache(rdb)
	}
	return s, nil
}

// NewFromPool wraps an existing pool without running migration. Used by
// tests and by callers that share one pool across stores.
func NewFromPool(pool *pgxpool.Pool, rdb *redis.Client) *Store {
	s := &Store{pool: pool}
	if rdb != nil {
		s.cache = newMessageCache(rdb)
	}
	return s
}

// Close releases the underlying connection pool. The Redis client is owned
// by the caller and is not closed here.
func (s *Store) Close() {
	s.pool.Close()
}
