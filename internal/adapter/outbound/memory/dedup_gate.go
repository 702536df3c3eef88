package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

type marker struct {
	status    model.WebhookEventStatus
	claimedAt time.Time
	createdAt time.Time
}

// DedupGate is an in-process dedup gate with the same semantics as the durable one.
type DedupGate struct {
	mu      sync.Mutex
	markers map[string]*marker
	lease   time.Duration
	now     func() time.Time
}

// NewDedupGate creates a gate whose in-flight claims expire after lease.
func NewDedupGate(lease time.Duration) *DedupGate {
	return &DedupGate{
		markers: make(map[string]*marker),
		lease:   lease,
		now:     time.Now,
	}
}

func (g *DedupGate) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := provider + ":" + eventID
	if m, ok := g.markers[key]; ok {
		switch {
		case m.status == model.WebhookEventProcessed:
			return false, nil
		case m.status == model.WebhookEventProcessing && now.Sub(m.claimedAt) < g.lease:
			return false, nil
		}
		m.status = model.WebhookEventProcessing
		m.claimedAt = now
		return true, nil
	}
	g.markers[key] = &marker{status: model.WebhookEventProcessing, claimedAt: now, createdAt: now}
	return true, nil
}

func (g *DedupGate) Complete(ctx context.Context, c model.DedupCompletion) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.markers[c.Provider+":"+c.EventID]
	if !ok {
		return nil
	}
	if c.Err != nil {
		m.status = model.WebhookEventFailed
		return nil
	}
	m.status = model.WebhookEventProcessed
	return nil
}

func (g *DedupGate) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int64
	for key, m := range g.markers {
		if m.createdAt.Before(cutoff) {
			delete(g.markers, key)
			n++
		}
	}
	return n, nil
}

// Compile-time checks
var (
	_ outbound.DedupGatePort    = (*DedupGate)(nil)
	_ outbound.DedupJanitorPort = (*DedupGate)(nil)
)
