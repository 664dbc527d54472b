package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aulalabs/aula/pkg/types"
)

const (
	// historyTTL is how long a session's cached message list lives after
	// its last write.
	historyTTL = 24 * time.Hour

	// historyCap bounds the cached list length. The prompt builder only
	// ever needs the most recent handful of turns.
	historyCap = 50
)

// historyKey returns the Redis key for a session's message list.
func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

// cachedMessage is the JSON shape stored in the Redis list.
type cachedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messageCache is a Redis-backed recent-history cache. All failures are
// logged and swallowed: the database remains the source of truth and the
// callers fall back to it.
type messageCache struct {
	rdb *redis.Client
}

func newMessageCache(rdb *redis.Client) *messageCache {
	return &messageCache{rdb: rdb}
}

// append pushes one message onto the session's list, trims it to
// historyCap, and refreshes the TTL.
func (c *messageCache) append(ctx context.Context, sessionID string, msg types.Message) {
	raw, err := json.Marshal(cachedMessage{Role: msg.Role, Content: msg.Content})
	if err != nil {
		slog.Warn("history cache: marshal", "error", err)
		return
	}

	key := historyKey(sessionID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -historyCap, -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("history cache: append", "session_id", sessionID, "error", err)
	}
}

// recent returns the last limit messages in chronological order, or
// (nil, false) on miss or error.
func (c *messageCache) recent(ctx context.Context, sessionID string, limit int) ([]types.Message, bool) {
	key := historyKey(sessionID)
	raws, err := c.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		slog.Warn("history cache: lrange", "session_id", sessionID, "error", err)
		return nil, false
	}
	if len(raws) == 0 {
		return nil, false
	}

	out := make([]types.Message, 0, len(raws))
	for _, raw := range raws {
		var cm cachedMessage
		if err := json.Unmarshal([]byte(raw), &cm); err != nil {
			// A corrupt entry poisons the whole list; drop it and refill
			// from the database.
			c.invalidate(ctx, sessionID)
			return nil, false
		}
		out = append(out, types.Message{Role: cm.Role, Content: cm.Content})
	}
	return out, true
}

// fill replaces the session's cached list with msgs.
func (c *messageCache) fill(ctx context.Context, sessionID string, msgs []types.Message) {
	key := historyKey(sessionID)

	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(cachedMessage{Role: m.Role, Content: m.Content})
		if err != nil {
			continue
		}
		vals = append(vals, raw)
	}
	if len(vals) == 0 {
		return
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, -historyCap, -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("history cache: fill", "session_id", sessionID, "error", err)
	}
}

// invalidate drops the session's cached list.
func (c *messageCache) invalidate(ctx context.Context, sessionID string) {
	if err := c.rdb.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		slog.Warn("history cache: invalidate", "session_id", sessionID, "error", err)
	}
}
