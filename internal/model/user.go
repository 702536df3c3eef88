package model

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the billing status shown on the user record.
type UserStatus string

const (
	UserStatusFree     UserStatus = "free"
	UserStatusActive   UserStatus = "active"
	UserStatusPastDue  UserStatus = "past_due"
	UserStatusCanceled UserStatus = "canceled"
)

// IsValid checks if the status is a known user billing status.
func (s UserStatus) IsValid() bool {
	switch s {
	case UserStatusFree, UserStatusActive, UserStatusPastDue, UserStatusCanceled:
		return true
	default:
		return false
	}
}

// User is the account owner. Users are created by the signup flow only;
// billing reconciliation reads and updates them but never inserts or deletes.
type User struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email string    `json:"email" gorm:"uniqueIndex;not null"`
	Name  string    `json:"name"`

	// Billing
	SubscriptionPlan        Plan       `json:"subscription_plan" gorm:"column:subscription_plan;not null;default:free"`
	SubscriptionStatus      UserStatus `json:"subscription_status" gorm:"column:subscription_status;not null;default:free"`
	SubscriptionEndsAt      *time.Time `json:"subscription_ends_at,omitempty" gorm:"column:subscription_ends_at"`
	SubscriptionProvider    string     `json:"subscription_provider,omitempty" gorm:"column:subscription_provider"`
	ExternalSubscriptionRef string     `json:"external_subscription_ref,omitempty" gorm:"column:external_subscription_ref;index"`

	// Usage
	EmailsSentThisMonth int        `json:"emails_sent_this_month" gorm:"column:emails_sent_this_month;not null;default:0"`
	LastUsageReset      *time.Time `json:"last_usage_reset,omitempty" gorm:"column:last_usage_reset"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// HasAccess reports whether the user can use paid features at now.
// Canceled users keep access until the end of the paid period.
func (u *User) HasAccess(now time.Time) bool {
	switch u.SubscriptionStatus {
	case UserStatusActive, UserStatusPastDue:
		return u.SubscriptionEndsAt == nil || now.Before(*u.SubscriptionEndsAt)
	case UserStatusCanceled:
		return u.SubscriptionEndsAt != nil && now.Before(*u.SubscriptionEndsAt)
	default:
		return false
	}
}

// IsCurrentSubscription reports whether sub is the one the user record points at.
func (u *User) IsCurrentSubscription(sub *Subscription) bool {
	if sub == nil || u.ExternalSubscriptionRef == "" {
		return false
	}
	return u.ExternalSubscriptionRef == sub.ExternalSubscriptionID &&
		u.SubscriptionProvider == sub.Provider
}

// Clone returns a shallow copy with its own time pointers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.SubscriptionEndsAt = cloneTime(u.SubscriptionEndsAt)
	c.LastUsageReset = cloneTime(u.LastUsageReset)
	return &c
}

// UsageResetStamp is the value stored in last_usage_reset when usage is reset
// for the period starting at periodStart. It is never earlier than periodStart.
func UsageResetStamp(periodStart, now time.Time) time.Time {
	if now.Before(periodStart) {
		return periodStart.UTC()
	}
	return now.UTC()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
