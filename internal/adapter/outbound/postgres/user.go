package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"gorm.io/gorm"
)

// billingColumns are the user columns reconciliation owns.
var billingColumns = []string{
	"subscription_plan",
	"subscription_status",
	"subscription_ends_at",
	"subscription_provider",
	"external_subscription_ref",
	"updated_at",
}

// userAdapter implements outbound.UserDatabasePort.
type userAdapter struct {
	db *gorm.DB
}

// NewUserAdapter creates a new user database adapter.
func NewUserAdapter(db *gorm.DB) outbound.UserDatabasePort {
	return &userAdapter{db: db}
}

func (a *userAdapter) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	err := a.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &u, nil
}

func (a *userAdapter) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := a.db.WithContext(ctx).First(&u, "lower(email) = lower(?)", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &u, nil
}

func (a *userAdapter) UpdateBilling(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()
	result := a.db.WithContext(ctx).
		Model(u).
		Select(billingColumns).
		Updates(u)
	if result.Error != nil {
		return fmt.Errorf("update user billing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update user billing %s: %w", u.ID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (a *userAdapter) MarkUsageReset(ctx context.Context, userID uuid.UUID, periodStart, now time.Time) (bool, error) {
	result := a.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND (last_usage_reset IS NULL OR last_usage_reset < ?)", userID, periodStart).
		Updates(map[string]any{
			"emails_sent_this_month": 0,
			"last_usage_reset":       model.UsageResetStamp(periodStart, now),
			"updated_at":             now.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("reset usage: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Compile-time check
var _ outbound.UserDatabasePort = (*userAdapter)(nil)
