package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const counterWindow = 24 * time.Hour

// NotificationCounter tracks how many notifications each user accrued over a
// rolling 24 hour window, backed by a Redis sorted set per user with
// timestamps as scores. Entries are recorded at enqueue time so the daily cap
// bounds what enters the queue, not just what leaves it. The counter is
// shared state: every scanner and dispatcher instance consults the same
// window.
type NotificationCounter struct {
	cache *RedisCache
}

// NewNotificationCounter creates a counter on top of a Redis connection.
func NewNotificationCounter(cache *RedisCache) *NotificationCounter {
	return &NotificationCounter{cache: cache}
}

func counterKey(userID int64) string {
	return fmt.Sprintf("notify:window:%d", userID)
}

// CountLast24h returns how many notifications were enqueued for the user in
// the last 24 hours, pruning expired entries as a side effect.
func (c *NotificationCounter) CountLast24h(ctx context.Context, userID int64) (int, error) {
	key := counterKey(userID)
	cutoff := time.Now().Add(-counterWindow).UnixMilli()

	pipe := c.cache.Client().TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return int(card.Val()), nil
}

// Record adds one notification to the user's window.
func (c *NotificationCounter) Record(ctx context.Context, userID int64) error {
	key := counterKey(userID)
	now := time.Now()

	pipe := c.cache.Client().TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score: float64(now.UnixMilli()),
		// Unique member per notification; the same millisecond may carry
		// several.
		Member: uuid.NewString(),
	})
	// Keep the key from outliving its window when the user goes quiet.
	pipe.Expire(ctx, key, counterWindow+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}
