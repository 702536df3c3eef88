package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EventKind is the provider-neutral class of a billing event.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription.created"
	EventSubscriptionUpdated  EventKind = "subscription.updated"
	EventSubscriptionCanceled EventKind = "subscription.canceled"
	EventPaymentSucceeded     EventKind = "payment.succeeded"
	EventPaymentFailed        EventKind = "payment.failed"
)

// IsSubscription returns true for subscription lifecycle kinds.
func (k EventKind) IsSubscription() bool {
	return k == EventSubscriptionCreated || k == EventSubscriptionUpdated || k == EventSubscriptionCanceled
}

// IsPayment returns true for payment kinds.
func (k EventKind) IsPayment() bool {
	return k == EventPaymentSucceeded || k == EventPaymentFailed
}

// NormalizedEvent is what every provider adapter produces.
// All instants are UTC and all amounts are minor units.
type NormalizedEvent struct {
	Provider        string    `json:"provider" validate:"required"`
	ExternalEventID string    `json:"external_event_id" validate:"required"`
	Kind            EventKind `json:"kind" validate:"required,oneof=subscription.created subscription.updated subscription.canceled payment.succeeded payment.failed"`
	ProviderType    string    `json:"provider_type,omitempty"`

	UserID    *uuid.UUID `json:"user_id,omitempty"`
	UserEmail string     `json:"user_email,omitempty" validate:"omitempty,email"`

	ExternalSubscriptionID string `json:"external_subscription_id,omitempty"`
	ExternalPaymentID      string `json:"external_payment_id,omitempty"`

	Plan              Plan               `json:"plan,omitempty" validate:"omitempty,oneof=free pro enterprise"`
	Status            SubscriptionStatus `json:"status,omitempty" validate:"omitempty,oneof=active past_due canceled"`
	PeriodStart       *time.Time         `json:"period_start,omitempty"`
	PeriodEnd         *time.Time         `json:"period_end,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end,omitempty"`

	Amount        int64  `json:"amount,omitempty" validate:"gte=0"`
	Currency      string `json:"currency,omitempty" validate:"omitempty,len=3"`
	FailureReason string `json:"failure_reason,omitempty"`
	Description   string `json:"description,omitempty"`

	OccurredAt time.Time `json:"occurred_at" validate:"required"`
}

var (
	eventValidator = validator.New()

	// ErrInvalidEvent is returned when a normalized event is incomplete.
	ErrInvalidEvent = errors.New("invalid normalized event")
)

// Validate checks the event is complete enough for reconciliation.
// An unusable email is dropped rather than failing the event; the other
// user references may still resolve the owner.
func (e *NormalizedEvent) Validate() error {
	e.UserEmail = strings.TrimSpace(e.UserEmail)
	if e.UserEmail != "" && eventValidator.Var(e.UserEmail, "email") != nil {
		e.UserEmail = ""
	}
	if err := eventValidator.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.UserID == nil && e.UserEmail == "" && e.ExternalSubscriptionID == "" {
		return fmt.Errorf("%w: no user reference", ErrInvalidEvent)
	}
	switch {
	case e.Kind.IsSubscription() && e.ExternalSubscriptionID == "":
		return fmt.Errorf("%w: %s without subscription id", ErrInvalidEvent, e.Kind)
	case e.Kind.IsPayment() && e.ExternalPaymentID == "":
		return fmt.Errorf("%w: %s without payment id", ErrInvalidEvent, e.Kind)
	}
	if e.PeriodStart != nil && e.PeriodEnd != nil && e.PeriodEnd.Before(*e.PeriodStart) {
		return fmt.Errorf("%w: period ends before it starts", ErrInvalidEvent)
	}
	return nil
}
