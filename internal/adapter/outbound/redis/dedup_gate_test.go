package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis requires Redis on localhost:6379 and skips otherwise.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDedupGate(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	t.Run("second claim is rejected while in flight", func(t *testing.T) {
		gate := NewDedupGate(client, time.Minute, time.Hour)

		ok, err := gate.Claim(ctx, "stripe", "evt_1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = gate.Claim(ctx, "stripe", "evt_1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("processed marker keeps rejecting", func(t *testing.T) {
		gate := NewDedupGate(client, time.Minute, time.Hour)

		ok, err := gate.Claim(ctx, "paddle", "evt_2")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, gate.Complete(ctx, model.DedupCompletion{Provider: "paddle", EventID: "evt_2"}))

		ok, err = gate.Claim(ctx, "paddle", "evt_2")
		require.NoError(t, err)
		assert.False(t, ok)

		ttl, err := client.TTL(ctx, dedupKey("paddle", "evt_2")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Minute)
	})

	t.Run("failure releases the claim", func(t *testing.T) {
		gate := NewDedupGate(client, time.Minute, time.Hour)

		ok, err := gate.Claim(ctx, "creem", "evt_3")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, gate.Complete(ctx, model.DedupCompletion{
			Provider: "creem", EventID: "evt_3", Err: errors.New("db down"),
		}))

		ok, err = gate.Claim(ctx, "creem", "evt_3")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("same id from another provider is independent", func(t *testing.T) {
		gate := NewDedupGate(client, time.Minute, time.Hour)

		ok, err := gate.Claim(ctx, "alipay", "shared")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = gate.Claim(ctx, "wechat", "shared")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
