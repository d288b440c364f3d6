package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, now: time.Now}
}

type sentValue struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

func sentKey(recipientID, messageID string) string {
	return fmt.Sprintf("sent:%s:%s", recipientID, messageID)
}

// RecordSent stores the channel receipt under a per-message key with the
// configured TTL.
func (c *RedisCache) RecordSent(ctx context.Context, recipientID, messageID string) error {
	val := sentValue{
		MessageID: messageID,
		SentAt:    c.now().UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(recipientID, messageID), b, c.ttl).Err()
}

func (c *RedisCache) WasSent(ctx context.Context, recipientID, messageID string) (bool, error) {
	_, err := c.rdb.Get(ctx, sentKey(recipientID, messageID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RedisQuota keeps the daily escalation call counter in Redis so the count
// survives restarts and is shared across instances. Keys expire two days
// after their calendar day; only the current day is ever read.
type RedisQuota struct {
	rdb *redis.Client
}

func NewRedisQuota(rdb *redis.Client) *RedisQuota {
	return &RedisQuota{rdb: rdb}
}

func quotaKey(day string) string {
	return "calls:" + day
}

func (q *RedisQuota) Today(ctx context.Context, day string) (int, error) {
	n, err := q.rdb.Get(ctx, quotaKey(day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q *RedisQuota) Increment(ctx context.Context, day string) error {
	pipe := q.rdb.TxPipeline()
	pipe.Incr(ctx, quotaKey(day))
	pipe.Expire(ctx, quotaKey(day), 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
