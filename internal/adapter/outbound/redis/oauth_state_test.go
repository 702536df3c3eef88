package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthStateStore(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	store := NewOAuthStateStore(client)
	owner := outbound.ESPOAuthState{UserID: uuid.New(), ESP: "mailchimp"}

	require.NoError(t, store.Save(ctx, "state-1", owner, time.Minute))

	got, err := store.Consume(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, owner, *got)

	_, err = store.Consume(ctx, "state-1")
	assert.ErrorIs(t, err, outbound.ErrStateNotFound)

	_, err = store.Consume(ctx, "never-saved")
	assert.ErrorIs(t, err, outbound.ErrStateNotFound)
}
