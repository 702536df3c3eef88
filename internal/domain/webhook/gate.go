package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// FallbackRecorder counts dedup decisions taken without the fast gate.
type FallbackRecorder interface {
	RecordDedupFallback(reason string)
}

// LayeredGate answers duplicates from a fast gate (Redis) and keeps the
// durable gate (Postgres) as the source of truth. While the fast gate errors
// the breaker opens and the durable gate decides alone.
type LayeredGate struct {
	fast     outbound.DedupGatePort
	durable  outbound.DedupGatePort
	breaker  *gobreaker.CircuitBreaker[bool]
	recorder FallbackRecorder
	logger   *zap.Logger
}

// NewLayeredGate combines a fast and a durable dedup gate. fast may be nil.
func NewLayeredGate(fast, durable outbound.DedupGatePort, recorder FallbackRecorder, logger *zap.Logger) *LayeredGate {
	settings := gobreaker.Settings{
		Name:        "dedup-fast-gate",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dedup breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &LayeredGate{
		fast:     fast,
		durable:  durable,
		breaker:  gobreaker.NewCircuitBreaker[bool](settings),
		recorder: recorder,
		logger:   logger,
	}
}

func (g *LayeredGate) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	fastClaimed := false
	if g.fast != nil {
		ok, err := g.breaker.Execute(func() (bool, error) {
			return g.fast.Claim(ctx, provider, eventID)
		})
		switch {
		case err == nil && !ok:
			return false, nil
		case err == nil:
			fastClaimed = true
		default:
			reason := "error"
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				reason = "open"
			}
			g.recorder.RecordDedupFallback(reason)
			g.logger.Warn("fast dedup gate unavailable, using durable gate", zap.Error(err))
		}
	}

	ok, err := g.durable.Claim(ctx, provider, eventID)
	if err != nil && fastClaimed {
		g.releaseFast(ctx, provider, eventID, err)
	}
	return ok, err
}

func (g *LayeredGate) Complete(ctx context.Context, c model.DedupCompletion) error {
	err := g.durable.Complete(ctx, c)
	if g.fast != nil {
		_, fastErr := g.breaker.Execute(func() (bool, error) {
			return true, g.fast.Complete(ctx, c)
		})
		if fastErr != nil {
			g.logger.Warn("fast dedup gate completion failed", zap.Error(fastErr))
		}
	}
	return err
}

// Purge delegates to the durable gate; fast markers expire on their own.
func (g *LayeredGate) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if janitor, ok := g.durable.(outbound.DedupJanitorPort); ok {
		return janitor.Purge(ctx, cutoff)
	}
	return 0, nil
}

func (g *LayeredGate) releaseFast(ctx context.Context, provider, eventID string, cause error) {
	_, err := g.breaker.Execute(func() (bool, error) {
		return true, g.fast.Complete(ctx, model.DedupCompletion{Provider: provider, EventID: eventID, Err: cause})
	})
	if err != nil {
		g.logger.Warn("failed to release fast dedup claim", zap.Error(err))
	}
}

var (
	_ outbound.DedupGatePort    = (*LayeredGate)(nil)
	_ outbound.DedupJanitorPort = (*LayeredGate)(nil)
)
