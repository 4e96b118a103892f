package storage

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) (*NotificationCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewNotificationCounter(NewRedisCacheFromClient(client)), mr
}

func TestNotificationCounterEmpty(t *testing.T) {
	counter, _ := newTestCounter(t)

	n, err := counter.CountLast24h(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNotificationCounterCountsPerUser(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, counter.Record(ctx, 42))
	}
	require.NoError(t, counter.Record(ctx, 99))

	n, err := counter.CountLast24h(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = counter.CountLast24h(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNotificationCounterExpiresOldEntries(t *testing.T) {
	counter, mr := newTestCounter(t)
	ctx := context.Background()

	// Two entries from 25 hours ago, planted directly in the sorted set.
	old := time.Now().Add(-25 * time.Hour).UnixMilli()
	mr.ZAdd(counterKey(42), float64(old), "old-1")
	mr.ZAdd(counterKey(42), float64(old+1), "old-2")

	require.NoError(t, counter.Record(ctx, 42))

	n, err := counter.CountLast24h(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "entries older than 24h fall out of the window")
}

func TestNotificationCounterWindowBoundary(t *testing.T) {
	counter, mr := newTestCounter(t)
	ctx := context.Background()

	// An entry just inside the window still counts.
	recent := time.Now().Add(-23*time.Hour - 59*time.Minute).UnixMilli()
	mr.ZAdd(counterKey(7), float64(recent), strconv.FormatInt(recent, 10))

	n, err := counter.CountLast24h(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
