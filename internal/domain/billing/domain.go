package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"go.uber.org/zap"
)

const recentPaymentsLimit = 10

// BillingDomain defines the billing reconciliation service interface.
type BillingDomain interface {
	// Reconcile applies one normalized provider event to the user's billing state.
	Reconcile(ctx context.Context, ev *model.NormalizedEvent) Result

	// GetBillingState returns the current billing view of a user.
	GetBillingState(ctx context.Context, userID uuid.UUID) (*model.BillingStateResponse, error)
}

// billingDomain implements BillingDomain.
type billingDomain struct {
	gateway   outbound.BillingGatewayPort
	publisher outbound.EventPublisherPort
	logger    *zap.Logger
	now       func() time.Time
}

// NewBillingDomain creates a new billing domain service.
func NewBillingDomain(
	gateway outbound.BillingGatewayPort,
	publisher outbound.EventPublisherPort,
	logger *zap.Logger,
) BillingDomain {
	return &billingDomain{
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *billingDomain) Reconcile(ctx context.Context, ev *model.NormalizedEvent) Result {
	log := d.logger.With(
		zap.String("provider", ev.Provider),
		zap.String("event_id", ev.ExternalEventID),
		zap.String("kind", string(ev.Kind)),
	)

	if err := ev.Validate(); err != nil {
		log.Warn("dropping unprocessable event", zap.Error(err))
		return Skip(fmt.Sprintf("%s: %v", ReasonInvalidEvent, err))
	}

	user, err := d.resolveUser(ctx, ev)
	if err != nil {
		log.Error("failed to resolve user", zap.Error(err))
		return Fail(fmt.Errorf("resolve user: %w", err))
	}
	if user == nil {
		log.Warn("dropping event for unknown user",
			zap.String("email", ev.UserEmail),
			zap.String("subscription_id", ev.ExternalSubscriptionID),
		)
		return Skip(ReasonUserNotFound)
	}

	var (
		res       Result
		published []*model.BillingEvent
	)
	err = d.gateway.WithinUserLock(ctx, user.ID, func(ctx context.Context, tx outbound.BillingStorePort) error {
		var applyErr error
		res, published, applyErr = d.apply(ctx, tx, ev, user.ID)
		return applyErr
	})
	if err != nil {
		log.Error("failed to apply billing event", zap.String("user_id", user.ID.String()), zap.Error(err))
		return Fail(err)
	}

	for _, be := range published {
		d.publisher.Publish(ctx, be)
	}

	log.Info("billing event reconciled",
		zap.String("user_id", user.ID.String()),
		zap.String("outcome", res.Outcome.String()),
		zap.String("reason", res.Reason),
		zap.Bool("usage_reset", res.UsageReset),
	)
	return res
}

// resolveUser looks the owner up by subscription first; the user reference
// carried by the event is only used before the subscription row exists.
func (d *billingDomain) resolveUser(ctx context.Context, ev *model.NormalizedEvent) (*model.User, error) {
	if ev.ExternalSubscriptionID != "" {
		sub, err := d.gateway.Subscriptions().GetByExternalID(ctx, ev.Provider, ev.ExternalSubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return d.gateway.Users().GetByID(ctx, sub.UserID)
		}
	}
	if ev.UserID != nil {
		user, err := d.gateway.Users().GetByID(ctx, *ev.UserID)
		if err != nil || user != nil {
			return user, err
		}
	}
	if ev.UserEmail != "" {
		return d.gateway.Users().GetByEmail(ctx, ev.UserEmail)
	}
	return nil, nil
}

// apply runs read, transition and write under the user lock.
func (d *billingDomain) apply(ctx context.Context, tx outbound.BillingStorePort, ev *model.NormalizedEvent, userID uuid.UUID) (Result, []*model.BillingEvent, error) {
	user, err := tx.Users().GetByID(ctx, userID)
	if err != nil {
		return Result{}, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return Skip(ReasonUserNotFound), nil, nil
	}

	var sub *model.Subscription
	if ev.ExternalSubscriptionID != "" {
		sub, err = tx.Subscriptions().GetByExternalID(ctx, ev.Provider, ev.ExternalSubscriptionID)
		if err != nil {
			return Result{}, nil, fmt.Errorf("get subscription: %w", err)
		}
	}
	current, err := tx.Subscriptions().GetCurrentByUserID(ctx, user.ID)
	if err != nil {
		return Result{}, nil, fmt.Errorf("get current subscription: %w", err)
	}

	now := d.now()
	dec := Transition(TransitionInput{
		User:         user,
		Subscription: sub,
		Current:      current,
		Event:        ev,
		Now:          now,
	})
	if dec.Outcome != OutcomeApplied {
		res := Skip(dec.Reason)
		res.UserID = user.ID
		return res, nil, nil
	}

	res := Ok(string(ev.Kind))
	res.UserID = user.ID
	var out []*model.BillingEvent

	// The ledger goes first: a duplicate payment turns the whole event into a no-op.
	if dec.Payment != nil {
		inserted, err := recordPayment(ctx, tx.Payments(), dec.Payment, now)
		if err != nil {
			return Result{}, nil, err
		}
		if !inserted {
			res := Skip(ReasonDuplicatePayment)
			res.UserID = user.ID
			return res, nil, nil
		}
		res.PaymentRecorded = true
		pe := model.NewBillingEvent(model.BillingEventPaymentRecorded, user.ID, ev)
		pe.Payment = dec.Payment
		out = append(out, pe)
	}

	if dec.Superseded != nil {
		dec.Superseded.UpdatedAt = now
		if err := tx.Subscriptions().Upsert(ctx, dec.Superseded); err != nil {
			return Result{}, nil, fmt.Errorf("supersede subscription: %w", err)
		}
	}

	if dec.Subscription != nil {
		if dec.Subscription.ID == uuid.Nil {
			dec.Subscription.ID = uuid.New()
			dec.Subscription.CreatedAt = now
		}
		dec.Subscription.UpdatedAt = now
		if err := tx.Subscriptions().Upsert(ctx, dec.Subscription); err != nil {
			return Result{}, nil, fmt.Errorf("upsert subscription: %w", err)
		}
	}

	if dec.User != nil {
		dec.User.UpdatedAt = now
		if err := tx.Users().UpdateBilling(ctx, dec.User); err != nil {
			return Result{}, nil, fmt.Errorf("update user: %w", err)
		}
		if dec.User.SubscriptionPlan != user.SubscriptionPlan || dec.User.SubscriptionStatus != user.SubscriptionStatus {
			pc := model.NewBillingEvent(model.BillingEventPlanChanged, user.ID, ev)
			pc.Plan = dec.User.SubscriptionPlan
			pc.Status = dec.User.SubscriptionStatus
			out = append(out, pc)
		}
	}

	if dec.ResetUsageFor != nil {
		reset, err := resetUsage(ctx, tx.Users(), user.ID, *dec.ResetUsageFor, now)
		if err != nil {
			return Result{}, nil, err
		}
		res.UsageReset = reset
		if reset {
			out = append(out, model.NewBillingEvent(model.BillingEventUsageReset, user.ID, ev))
		}
	}

	return res, out, nil
}

func (d *billingDomain) GetBillingState(ctx context.Context, userID uuid.UUID) (*model.BillingStateResponse, error) {
	user, err := d.gateway.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	current, err := d.gateway.Subscriptions().GetCurrentByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get current subscription: %w", err)
	}
	if current == nil && user.ExternalSubscriptionRef != "" {
		current, err = d.gateway.Subscriptions().GetByExternalID(ctx, user.SubscriptionProvider, user.ExternalSubscriptionRef)
		if err != nil {
			return nil, fmt.Errorf("get subscription: %w", err)
		}
	}

	payments, err := d.gateway.Payments().ListByUser(ctx, userID, recentPaymentsLimit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if payments == nil {
		payments = []*model.Payment{}
	}

	return &model.BillingStateResponse{
		UserID:              user.ID,
		Plan:                user.SubscriptionPlan,
		Status:              user.SubscriptionStatus,
		HasAccess:           user.HasAccess(d.now()),
		SubscriptionEndsAt:  user.SubscriptionEndsAt,
		Provider:            user.SubscriptionProvider,
		EmailsSentThisMonth: user.EmailsSentThisMonth,
		LastUsageReset:      user.LastUsageReset,
		Subscription:        current,
		RecentPayments:      payments,
	}, nil
}
