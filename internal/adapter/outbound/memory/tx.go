package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

type usageReset struct {
	periodStart time.Time
	now         time.Time
}

// txState stages writes on top of the committed store until commit.
type txState struct {
	base     *Store
	billing  map[uuid.UUID]*model.User
	resets   map[uuid.UUID]usageReset
	subs     map[uuid.UUID]*model.Subscription
	payments []*model.Payment
}

func newTxState(base *Store) *txState {
	return &txState{
		base:    base,
		billing: make(map[uuid.UUID]*model.User),
		resets:  make(map[uuid.UUID]usageReset),
		subs:    make(map[uuid.UUID]*model.Subscription),
	}
}

func (t *txState) overlayUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	if b, ok := t.billing[u.ID]; ok {
		u.SubscriptionPlan = b.SubscriptionPlan
		u.SubscriptionStatus = b.SubscriptionStatus
		u.SubscriptionEndsAt = cloneTime(b.SubscriptionEndsAt)
		u.SubscriptionProvider = b.SubscriptionProvider
		u.ExternalSubscriptionRef = b.ExternalSubscriptionRef
	}
	if r, ok := t.resets[u.ID]; ok {
		stamp := model.UsageResetStamp(r.periodStart, r.now)
		u.EmailsSentThisMonth = 0
		u.LastUsageReset = &stamp
	}
	return u
}

func (t *txState) getUser(id uuid.UUID) *model.User {
	return t.overlayUser(t.base.getUser(id))
}

func (t *txState) getUserByEmail(email string) *model.User {
	return t.overlayUser(t.base.getUserByEmail(email))
}

func (t *txState) updateBilling(u *model.User) error {
	if t.base.getUser(u.ID) == nil {
		return ErrUserNotFound
	}
	t.billing[u.ID] = u.Clone()
	return nil
}

func (t *txState) markUsageReset(id uuid.UUID, periodStart, now time.Time) bool {
	u := t.getUser(id)
	if u == nil {
		return false
	}
	if u.LastUsageReset != nil && !u.LastUsageReset.Before(periodStart) {
		return false
	}
	t.resets[id] = usageReset{periodStart: periodStart, now: now}
	return true
}

func (t *txState) getSubscription(provider, externalID string) *model.Subscription {
	for _, sub := range t.subs {
		if sub.Provider == provider && sub.ExternalSubscriptionID == externalID {
			return sub.Clone()
		}
	}
	return t.base.getSubscription(provider, externalID)
}

func (t *txState) userSubscriptions(userID uuid.UUID) []*model.Subscription {
	var out []*model.Subscription
	for _, sub := range t.base.userSubscriptions(userID) {
		if staged, ok := t.subs[sub.ID]; ok {
			sub = staged.Clone()
		}
		out = append(out, sub)
	}
	for id, sub := range t.subs {
		if sub.UserID != userID {
			continue
		}
		found := false
		for _, o := range out {
			if o.ID == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, sub.Clone())
		}
	}
	return out
}

func (t *txState) putSubscription(sub *model.Subscription) {
	t.subs[sub.ID] = sub.Clone()
}

func (t *txState) insertPayment(p *model.Payment) bool {
	if t.base.hasPayment(p) {
		return false
	}
	key := paymentKey(p)
	for _, staged := range t.payments {
		if paymentKey(staged) == key {
			return false
		}
	}
	cp := *p
	t.payments = append(t.payments, &cp)
	return true
}

func (t *txState) listPayments(userID uuid.UUID, limit int) []*model.Payment {
	var out []*model.Payment
	for i := len(t.payments) - 1; i >= 0; i-- {
		if t.payments[i].UserID == userID {
			cp := *t.payments[i]
			out = append(out, &cp)
		}
	}
	out = append(out, t.base.listPayments(userID, limit)...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// commit applies staged writes atomically. Usage resets re-check their guard
// against the committed row, like the conditional UPDATE in Postgres.
func (t *txState) commit() {
	s := t.base
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range t.payments {
		s.insertPaymentLocked(p)
	}
	for _, sub := range t.subs {
		s.subs[sub.ID] = sub.Clone()
	}
	for _, u := range t.billing {
		_ = s.applyBillingLocked(u)
	}
	for id, r := range t.resets {
		s.markUsageResetLocked(id, r.periodStart, r.now)
	}
}

// txStore exposes a txState through the billing repository ports.
type txStore struct {
	st state
}

func (t txStore) Users() outbound.UserDatabasePort                 { return &userRepo{st: t.st} }
func (t txStore) Subscriptions() outbound.SubscriptionDatabasePort { return &subscriptionRepo{st: t.st} }
func (t txStore) Payments() outbound.PaymentDatabasePort           { return &paymentRepo{st: t.st} }
