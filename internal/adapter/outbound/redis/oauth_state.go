package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/redis/go-redis/v9"
)

const oauthStateKeyPrefix = "esp:oauth:state:"

// oauthStateStore implements outbound.ESPStateStorePort.
type oauthStateStore struct {
	client redis.UniversalClient
}

// NewOAuthStateStore creates a new OAuth state store adapter.
func NewOAuthStateStore(client redis.UniversalClient) outbound.ESPStateStorePort {
	return &oauthStateStore{client: client}
}

func (s *oauthStateStore) Save(ctx context.Context, state string, owner outbound.ESPOAuthState, ttl time.Duration) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.client.Set(ctx, oauthStateKeyPrefix+state, data, ttl).Err()
}

func (s *oauthStateStore) Consume(ctx context.Context, state string) (*outbound.ESPOAuthState, error) {
	data, err := s.client.GetDel(ctx, oauthStateKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, outbound.ErrStateNotFound
		}
		return nil, err
	}
	var owner outbound.ESPOAuthState
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &owner, nil
}

// Compile-time check
var _ outbound.ESPStateStorePort = (*oauthStateStore)(nil)
