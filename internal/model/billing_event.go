package model

import (
	"time"

	"github.com/google/uuid"
)

// Billing event types published after a reconciliation committed.
const (
	BillingEventPlanChanged     = "billing.plan_changed"
	BillingEventUsageReset      = "billing.usage_reset"
	BillingEventPaymentRecorded = "billing.payment_recorded"
)

// BillingEvent is an in-process notification about a committed billing change.
type BillingEvent struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	UserID     uuid.UUID  `json:"user_id"`
	Provider   string     `json:"provider"`
	Plan       Plan       `json:"plan,omitempty"`
	Status     UserStatus `json:"status,omitempty"`
	Payment    *Payment   `json:"payment,omitempty"`
	Source     EventKind  `json:"source"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewBillingEvent creates a billing event of the given type.
func NewBillingEvent(eventType string, userID uuid.UUID, source *NormalizedEvent) *BillingEvent {
	ev := &BillingEvent{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
	if source != nil {
		ev.Provider = source.Provider
		ev.Source = source.Kind
	}
	return ev
}
