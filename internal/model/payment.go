package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PaymentStatus represents the outcome of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
	ProviderCreem  = "creem"
	ProviderAlipay = "alipay"
	ProviderWechat = "wechat"
)

// Payment is an append-only ledger row. The tuple
// (provider, external_payment_id, status) is unique.
type Payment struct {
	ID                uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Provider          string        `json:"provider" gorm:"not null;uniqueIndex:idx_payments_provider_external"`
	ExternalPaymentID string        `json:"external_payment_id" gorm:"not null;uniqueIndex:idx_payments_provider_external"`
	Status            PaymentStatus `json:"status" gorm:"not null;uniqueIndex:idx_payments_provider_external"`
	UserID            uuid.UUID     `json:"user_id" gorm:"type:uuid;not null;index"`
	SubscriptionID    *uuid.UUID    `json:"subscription_id,omitempty" gorm:"type:uuid;index"`
	Amount            int64         `json:"amount" gorm:"not null"` // minor units
	Currency          string        `json:"currency" gorm:"not null"`
	Description       string        `json:"description,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at" gorm:"not null"`
	CreatedAt         time.Time     `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Payment) TableName() string {
	return "payments"
}

// WebhookEventStatus is the processing state of a dedup marker.
type WebhookEventStatus string

const (
	WebhookEventProcessing WebhookEventStatus = "processing"
	WebhookEventProcessed  WebhookEventStatus = "processed"
	WebhookEventFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is the durable dedup marker and audit row for one provider event.
type WebhookEvent struct {
	ID          uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	Provider    string             `json:"provider" gorm:"not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventID     string             `json:"event_id" gorm:"not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventType   string             `json:"event_type"`
	Status      WebhookEventStatus `json:"status" gorm:"not null;index"`
	Outcome     string             `json:"outcome,omitempty"`
	Payload     datatypes.JSON     `json:"payload,omitempty" gorm:"type:jsonb"`
	Error       *string            `json:"error,omitempty"`
	ClaimedAt   time.Time          `json:"claimed_at" gorm:"not null"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at" gorm:"index"`
}

// TableName returns the table name for GORM.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// DedupCompletion carries what the pipeline learned about a claimed event.
type DedupCompletion struct {
	Provider  string
	EventID   string
	EventType string
	Outcome   string
	Event     *NormalizedEvent
	Err       error
}
