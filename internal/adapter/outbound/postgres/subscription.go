package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionAdapter implements outbound.SubscriptionDatabasePort.
type subscriptionAdapter struct {
	db *gorm.DB
}

// NewSubscriptionAdapter creates a new subscription database adapter.
func NewSubscriptionAdapter(db *gorm.DB) outbound.SubscriptionDatabasePort {
	return &subscriptionAdapter{db: db}
}

func (a *subscriptionAdapter) GetByExternalID(ctx context.Context, provider, externalID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := a.db.WithContext(ctx).
		Where("provider = ? AND external_subscription_id = ?", provider, externalID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription by external id: %w", err)
	}
	return &sub, nil
}

func (a *subscriptionAdapter) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := a.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []model.SubscriptionStatus{
			model.SubscriptionStatusActive,
			model.SubscriptionStatusPastDue,
		}).
		Order("last_event_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find current subscription: %w", err)
	}
	return &sub, nil
}

func (a *subscriptionAdapter) Upsert(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan", "status", "current_period_start", "current_period_end",
				"cancel_at_period_end", "canceled_at", "last_event_at", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Compile-time check
var _ outbound.SubscriptionDatabasePort = (*subscriptionAdapter)(nil)
