package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mailcraft/server/internal/port/outbound"
)

type stateEntry struct {
	owner     outbound.ESPOAuthState
	expiresAt time.Time
}

// OAuthStateStore keeps OAuth states in process memory.
type OAuthStateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
	now    func() time.Time
}

// NewOAuthStateStore creates an empty state store.
func NewOAuthStateStore() *OAuthStateStore {
	return &OAuthStateStore{states: make(map[string]stateEntry), now: time.Now}
}

func (s *OAuthStateStore) Save(ctx context.Context, state string, owner outbound.ESPOAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.states {
		if now.After(e.expiresAt) {
			delete(s.states, k)
		}
	}
	s.states[state] = stateEntry{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (s *OAuthStateStore) Consume(ctx context.Context, state string) (*outbound.ESPOAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[state]
	delete(s.states, state)
	if !ok || s.now().After(e.expiresAt) {
		return nil, outbound.ErrStateNotFound
	}
	owner := e.owner
	return &owner, nil
}

// Compile-time check
var _ outbound.ESPStateStorePort = (*OAuthStateStore)(nil)
