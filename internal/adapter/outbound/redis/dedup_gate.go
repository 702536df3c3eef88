package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/redis/go-redis/v9"
)

const (
	dedupKeyPrefix  = "webhook:dedup:"
	dedupProcessing = "processing"
	dedupDone       = "done"
)

// dedupGate implements outbound.DedupGatePort with SET NX markers.
type dedupGate struct {
	client    redis.UniversalClient
	lease     time.Duration
	retention time.Duration
}

// NewDedupGate creates a Redis dedup gate. An in-flight claim expires after
// lease; a processed marker is kept for retention.
func NewDedupGate(client redis.UniversalClient, lease, retention time.Duration) outbound.DedupGatePort {
	return &dedupGate{client: client, lease: lease, retention: retention}
}

func dedupKey(provider, eventID string) string {
	return dedupKeyPrefix + provider + ":" + eventID
}

func (g *dedupGate) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, dedupKey(provider, eventID), dedupProcessing, g.lease).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", provider, eventID, err)
	}
	return ok, nil
}

func (g *dedupGate) Complete(ctx context.Context, c model.DedupCompletion) error {
	key := dedupKey(c.Provider, c.EventID)
	if c.Err != nil {
		// Released so the provider's retry is processed.
		if err := g.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("release %s/%s: %w", c.Provider, c.EventID, err)
		}
		return nil
	}
	if err := g.client.Set(ctx, key, dedupDone, g.retention).Err(); err != nil {
		return fmt.Errorf("complete %s/%s: %w", c.Provider, c.EventID, err)
	}
	return nil
}

// Compile-time check
var _ outbound.DedupGatePort = (*dedupGate)(nil)
