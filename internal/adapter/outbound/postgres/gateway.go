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

// billingStore binds the billing repositories to one connection or transaction.
type billingStore struct {
	db *gorm.DB
}

func (s billingStore) Users() outbound.UserDatabasePort { return NewUserAdapter(s.db) }

func (s billingStore) Subscriptions() outbound.SubscriptionDatabasePort {
	return NewSubscriptionAdapter(s.db)
}

func (s billingStore) Payments() outbound.PaymentDatabasePort { return NewPaymentAdapter(s.db) }

// billingGateway implements outbound.BillingGatewayPort on Postgres.
type billingGateway struct {
	billingStore
}

// NewBillingGateway creates the Postgres persistence gateway.
func NewBillingGateway(db *gorm.DB) outbound.BillingGatewayPort {
	return &billingGateway{billingStore{db: db}}
}

// WithinUserLock opens a transaction and takes a row lock on the user
// (SELECT ... FOR UPDATE) before running fn. Concurrent deliveries for the
// same user serialize on that lock across processes.
func (g *billingGateway) WithinUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx outbound.BillingStorePort) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []model.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", userID).
			Find(&locked).Error
		if err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}
		return fn(ctx, billingStore{db: tx})
	})
}

// Compile-time check
var _ outbound.BillingGatewayPort = (*billingGateway)(nil)
