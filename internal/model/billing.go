package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// IsPaid returns true for tiers that require a subscription.
func (p Plan) IsPaid() bool {
	return p == PlanPro || p == PlanEnterprise
}

// ParsePlan maps a provider-supplied plan name to a Plan.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanFree:
		return PlanFree, true
	case PlanPro:
		return PlanPro, true
	case PlanEnterprise:
		return PlanEnterprise, true
	default:
		return "", false
	}
}

// SubscriptionStatus represents the status of a subscription row.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// IsCurrent returns true while the subscription still entitles its owner.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// UserStatus maps a subscription status onto the user record.
func (s SubscriptionStatus) UserStatus() UserStatus {
	switch s {
	case SubscriptionStatusActive:
		return UserStatusActive
	case SubscriptionStatusPastDue:
		return UserStatusPastDue
	case SubscriptionStatusCanceled:
		return UserStatusCanceled
	default:
		return UserStatusFree
	}
}

// Subscription is a provider subscription owned by a user.
// Rows are never deleted; canceled is terminal.
type Subscription struct {
	ID                     uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	Provider               string             `json:"provider" gorm:"not null;uniqueIndex:idx_subscriptions_provider_external"`
	ExternalSubscriptionID string             `json:"external_subscription_id" gorm:"not null;uniqueIndex:idx_subscriptions_provider_external"`
	UserID                 uuid.UUID          `json:"user_id" gorm:"type:uuid;not null;index"`
	Plan                   Plan               `json:"plan" gorm:"not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"not null"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`

	// LastEventAt is the occurrence time of the newest event applied to this row.
	LastEventAt time.Time `json:"last_event_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsCanceled returns true once the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// Clone returns a copy with its own time pointers.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.CanceledAt = cloneTime(s.CanceledAt)
	return &c
}

// --- Response DTOs ---

// BillingStateResponse is the dashboard view of a user's billing state.
type BillingStateResponse struct {
	UserID              uuid.UUID     `json:"user_id"`
	Plan                Plan          `json:"plan"`
	Status              UserStatus    `json:"status"`
	HasAccess           bool          `json:"has_access"`
	SubscriptionEndsAt  *time.Time    `json:"subscription_ends_at,omitempty"`
	Provider            string        `json:"provider,omitempty"`
	EmailsSentThisMonth int           `json:"emails_sent_this_month"`
	LastUsageReset      *time.Time    `json:"last_usage_reset,omitempty"`
	Subscription        *Subscription `json:"subscription,omitempty"`
	RecentPayments      []*Payment    `json:"recent_payments"`
}
