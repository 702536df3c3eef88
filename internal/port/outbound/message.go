package outbound

import (
	"context"

	"github.com/mailcraft/server/internal/model"
)

// EventPublisherPort defines billing event publishing operations.
// Events are published after the reconciliation transaction committed.
type EventPublisherPort interface {
	// Publish dispatches a billing event to in-process subscribers.
	Publish(ctx context.Context, event *model.BillingEvent)
}
