package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentAdapter implements outbound.PaymentDatabasePort.
type paymentAdapter struct {
	db *gorm.DB
}

// NewPaymentAdapter creates a new payment database adapter.
func NewPaymentAdapter(db *gorm.DB) outbound.PaymentDatabasePort {
	return &paymentAdapter{db: db}
}

// Insert relies on the unique (provider, external_payment_id, status) index.
// ON CONFLICT DO NOTHING keeps a surrounding transaction usable on duplicates.
func (a *paymentAdapter) Insert(ctx context.Context, payment *model.Payment) (bool, error) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	result := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(payment)
	if result.Error != nil {
		return false, fmt.Errorf("insert payment: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (a *paymentAdapter) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	query := a.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// Compile-time check
var _ outbound.PaymentDatabasePort = (*paymentAdapter)(nil)
