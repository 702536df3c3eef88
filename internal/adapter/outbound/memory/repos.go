package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

type userRepo struct{ st state }

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.st.getUser(id), ctx.Err()
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.st.getUserByEmail(email), ctx.Err()
}

func (r *userRepo) UpdateBilling(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.st.updateBilling(user)
}

func (r *userRepo) MarkUsageReset(ctx context.Context, userID uuid.UUID, periodStart, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.st.markUsageReset(userID, periodStart, now), nil
}

type subscriptionRepo struct{ st state }

func (r *subscriptionRepo) GetByExternalID(ctx context.Context, provider, externalID string) (*model.Subscription, error) {
	return r.st.getSubscription(provider, externalID), ctx.Err()
}

func (r *subscriptionRepo) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (*model.Subscription, error) {
	return currentOf(r.st.userSubscriptions(userID)), ctx.Err()
}

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.st.putSubscription(sub)
	return nil
}

type paymentRepo struct{ st state }

func (r *paymentRepo) Insert(ctx context.Context, payment *model.Payment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.st.insertPayment(payment), nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Payment, error) {
	return r.st.listPayments(userID, limit), ctx.Err()
}

// Compile-time checks
var (
	_ outbound.UserDatabasePort         = (*userRepo)(nil)
	_ outbound.SubscriptionDatabasePort = (*subscriptionRepo)(nil)
	_ outbound.PaymentDatabasePort      = (*paymentRepo)(nil)
	_ state                             = (*Store)(nil)
	_ state                             = (*txState)(nil)
)
