package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
)

// UserDatabasePort defines the user operations billing reconciliation needs.
// Lookups return (nil, nil) when nothing matches.
type UserDatabasePort interface {
	// GetByID finds a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// GetByEmail finds a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateBilling writes the billing columns of the user only.
	// Usage counters are owned by the sending path and are never overwritten here.
	UpdateBilling(ctx context.Context, user *model.User) error

	// MarkUsageReset zeroes monthly usage if the last reset predates periodStart.
	// Returns true when the reset happened.
	MarkUsageReset(ctx context.Context, userID uuid.UUID, periodStart, now time.Time) (bool, error)
}

// SubscriptionDatabasePort defines subscription persistence operations.
type SubscriptionDatabasePort interface {
	// GetByExternalID finds a subscription by provider and external ID.
	GetByExternalID(ctx context.Context, provider, externalID string) (*model.Subscription, error)

	// GetCurrentByUserID returns the user's active or past_due subscription, newest first.
	GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error)

	// Upsert inserts or updates a subscription by ID.
	Upsert(ctx context.Context, sub *model.Subscription) error
}

// PaymentDatabasePort defines the payment ledger operations.
type PaymentDatabasePort interface {
	// Insert appends a ledger row. A duplicate returns (false, nil).
	Insert(ctx context.Context, payment *model.Payment) (bool, error)

	// ListByUser returns the newest payments of a user.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Payment, error)
}

// BillingStorePort groups the billing repositories bound to one connection or transaction.
type BillingStorePort interface {
	Users() UserDatabasePort
	Subscriptions() SubscriptionDatabasePort
	Payments() PaymentDatabasePort
}

// BillingGatewayPort is the persistence gateway used by reconciliation.
type BillingGatewayPort interface {
	BillingStorePort

	// WithinUserLock runs fn atomically while holding an exclusive lock on the user.
	// Writes made through tx are committed only if fn returns nil.
	WithinUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx BillingStorePort) error) error
}
