// Package memory provides an in-process billing gateway used by tests and
// by the "memory" storage driver for local runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

// ErrUserNotFound is returned by test helpers for unknown users.
var ErrUserNotFound = errors.New("user not found")

// state is the read/write surface shared by the committed store and a transaction overlay.
type state interface {
	getUser(id uuid.UUID) *model.User
	getUserByEmail(email string) *model.User
	updateBilling(u *model.User) error
	markUsageReset(id uuid.UUID, periodStart, now time.Time) bool
	getSubscription(provider, externalID string) *model.Subscription
	userSubscriptions(userID uuid.UUID) []*model.Subscription
	putSubscription(s *model.Subscription)
	insertPayment(p *model.Payment) bool
	listPayments(userID uuid.UUID, limit int) []*model.Payment
}

// Store is a thread-safe in-memory implementation of outbound.BillingGatewayPort.
type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*model.User
	subs        map[uuid.UUID]*model.Subscription
	payments    []*model.Payment
	paymentKeys map[string]struct{}

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[uuid.UUID]*model.User),
		subs:        make(map[uuid.UUID]*model.Subscription),
		paymentKeys: make(map[string]struct{}),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// PutUser inserts or replaces a user. Signup owns user creation; this is
// how tests and the dev seed provide them.
func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.ID] = u.Clone()
}

// AddUsage increments the monthly counter the way the sending path does.
func (s *Store) AddUsage(userID uuid.UUID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailsSentThisMonth += n
	return nil
}

// UserCount returns how many users exist.
func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// PaymentCount returns the number of ledger rows.
func (s *Store) PaymentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}

func (s *Store) Users() outbound.UserDatabasePort                 { return &userRepo{st: s} }
func (s *Store) Subscriptions() outbound.SubscriptionDatabasePort { return &subscriptionRepo{st: s} }
func (s *Store) Payments() outbound.PaymentDatabasePort           { return &paymentRepo{st: s} }

// WithinUserLock serializes work per user and commits staged writes when fn succeeds.
func (s *Store) WithinUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx outbound.BillingStorePort) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTxState(s)
	if err := fn(ctx, txStore{st: tx}); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) userLock(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// --- committed state ---

func (s *Store) getUser(id uuid.UUID) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id].Clone()
}

func (s *Store) getUserByEmail(email string) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u.Clone()
		}
	}
	return nil
}

func (s *Store) updateBilling(u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyBillingLocked(u)
}

func (s *Store) applyBillingLocked(u *model.User) error {
	cur, ok := s.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	cur.SubscriptionPlan = u.SubscriptionPlan
	cur.SubscriptionStatus = u.SubscriptionStatus
	cur.SubscriptionEndsAt = cloneTime(u.SubscriptionEndsAt)
	cur.SubscriptionProvider = u.SubscriptionProvider
	cur.ExternalSubscriptionRef = u.ExternalSubscriptionRef
	cur.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *Store) markUsageReset(id uuid.UUID, periodStart, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markUsageResetLocked(id, periodStart, now)
}

func (s *Store) markUsageResetLocked(id uuid.UUID, periodStart, now time.Time) bool {
	u, ok := s.users[id]
	if !ok {
		return false
	}
	if u.LastUsageReset != nil && !u.LastUsageReset.Before(periodStart) {
		return false
	}
	stamp := model.UsageResetStamp(periodStart, now)
	u.EmailsSentThisMonth = 0
	u.LastUsageReset = &stamp
	return true
}

func (s *Store) getSubscription(provider, externalID string) *model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.Provider == provider && sub.ExternalSubscriptionID == externalID {
			return sub.Clone()
		}
	}
	return nil
}

func (s *Store) userSubscriptions(userID uuid.UUID) []*model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Subscription
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub.Clone())
		}
	}
	return out
}

func (s *Store) putSubscription(sub *model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub.Clone()
}

func (s *Store) insertPayment(p *model.Payment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertPaymentLocked(p)
}

func (s *Store) insertPaymentLocked(p *model.Payment) bool {
	key := paymentKey(p)
	if _, dup := s.paymentKeys[key]; dup {
		return false
	}
	s.paymentKeys[key] = struct{}{}
	cp := *p
	s.payments = append(s.payments, &cp)
	return true
}

func (s *Store) hasPayment(p *model.Payment) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, dup := s.paymentKeys[paymentKey(p)]
	return dup
}

func (s *Store) listPayments(userID uuid.UUID, limit int) []*model.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Payment
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].UserID == userID {
			cp := *s.payments[i]
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func paymentKey(p *model.Payment) string {
	return p.Provider + "\x00" + p.ExternalPaymentID + "\x00" + string(p.Status)
}

// currentOf picks the newest active or past_due subscription.
func currentOf(subs []*model.Subscription) *model.Subscription {
	sort.Slice(subs, func(i, j int) bool { return subs[i].LastEventAt.After(subs[j].LastEventAt) })
	for _, sub := range subs {
		if sub.Status.IsCurrent() {
			return sub
		}
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Compile-time check
var _ outbound.BillingGatewayPort = (*Store)(nil)
