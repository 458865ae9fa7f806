// Package cache mirrors each conversation's most recent messages into
// redis so sibling services can read them without hitting the websocket
// server. The cache is advisory; the in-process store stays authoritative.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

const (
	recentCap = 100
	recentTTL = 24 * time.Hour
)

type Recent struct {
	client *redis.Client
	prefix string
}

func NewRecent(client *redis.Client, prefix string) *Recent {
	return &Recent{client: client, prefix: prefix}
}

func (r *Recent) key(conversationID string) string {
	return r.prefix + ":recent:" + conversationID
}

// Push prepends msg to the conversation's recent list, trimmed to
// recentCap entries. A nil receiver is a no-op so callers need no guard
// when the cache is disabled.
func (r *Recent) Push(ctx context.Context, msg *models.Message) error {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := r.key(msg.ConversationID)
	if err := r.client.LPush(ctx, key, b).Err(); err != nil {
		return err
	}
	if err := r.client.LTrim(ctx, key, 0, recentCap-1).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, recentTTL).Err()
}

// Latest returns up to limit cached messages, newest first.
func (r *Recent) Latest(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 || limit > recentCap {
		limit = recentCap
	}
	rows, err := r.client.LRange(ctx, r.key(conversationID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Message, 0, len(rows))
	for _, row := range rows {
		var m models.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}
