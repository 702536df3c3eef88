package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mailcraft/server/internal/model"
)

var (
	t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.AddDate(0, 1, 0)
	t2 = t1.AddDate(0, 1, 0)
)

func tp(t time.Time) *time.Time { return &t }

func newUser() *model.User {
	return &model.User{
		ID:                 uuid.New(),
		Email:              "owner@example.com",
		SubscriptionPlan:   model.PlanFree,
		SubscriptionStatus: model.UserStatusFree,
	}
}

func subscribedUser(sub *model.Subscription) *model.User {
	u := newUser()
	u.ID = sub.UserID
	u.SubscriptionPlan = sub.Plan
	u.SubscriptionStatus = sub.Status.UserStatus()
	u.SubscriptionProvider = sub.Provider
	u.ExternalSubscriptionRef = sub.ExternalSubscriptionID
	return u
}

func activeSub(userID uuid.UUID) *model.Subscription {
	return &model.Subscription{
		ID:                     uuid.New(),
		Provider:               model.ProviderStripe,
		ExternalSubscriptionID: "sub_1",
		UserID:                 userID,
		Plan:                   model.PlanPro,
		Status:                 model.SubscriptionStatusActive,
		CurrentPeriodStart:     tp(t0),
		CurrentPeriodEnd:       tp(t1),
		LastEventAt:            t0,
	}
}

func event(kind model.EventKind, at time.Time) *model.NormalizedEvent {
	return &model.NormalizedEvent{
		Provider:               model.ProviderStripe,
		ExternalEventID:        "evt_" + uuid.NewString(),
		Kind:                   kind,
		ExternalSubscriptionID: "sub_1",
		OccurredAt:             at,
	}
}

func TestTransition_SubscriptionCreated(t *testing.T) {
	t.Run("creates subscription and activates user", func(t *testing.T) {
		user := newUser()
		ev := event(model.EventSubscriptionCreated, t0)
		ev.Plan = model.PlanPro
		ev.PeriodStart, ev.PeriodEnd = tp(t0), tp(t1)

		d := Transition(TransitionInput{User: user, Event: ev, Now: t0})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Subscription)
		assert.Equal(t, model.SubscriptionStatusActive, d.Subscription.Status)
		assert.Equal(t, user.ID, d.Subscription.UserID)
		assert.Equal(t, t0, d.Subscription.LastEventAt)
		require.NotNil(t, d.User)
		assert.Equal(t, model.PlanPro, d.User.SubscriptionPlan)
		assert.Equal(t, model.UserStatusActive, d.User.SubscriptionStatus)
		assert.Equal(t, "sub_1", d.User.ExternalSubscriptionRef)
		assert.Nil(t, d.User.SubscriptionEndsAt)
		assert.Nil(t, d.Payment)
	})

	t.Run("skips when subscription already exists", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.Status = model.SubscriptionStatusCanceled
		ev := event(model.EventSubscriptionCreated, t0)
		ev.Plan = model.PlanPro

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		assert.Equal(t, OutcomeSkipped, d.Outcome)
		assert.Equal(t, ReasonSubscriptionExists, d.Reason)
	})

	t.Run("skips when plan is unresolved", func(t *testing.T) {
		ev := event(model.EventSubscriptionCreated, t0)

		d := Transition(TransitionInput{User: newUser(), Event: ev})

		assert.Equal(t, OutcomeSkipped, d.Outcome)
		assert.Equal(t, ReasonPlanUnresolved, d.Reason)
	})

	t.Run("supersedes the previous current subscription", func(t *testing.T) {
		old := activeSub(uuid.New())
		user := subscribedUser(old)
		ev := event(model.EventSubscriptionCreated, t1)
		ev.ExternalSubscriptionID = "sub_2"
		ev.Plan = model.PlanEnterprise

		d := Transition(TransitionInput{User: user, Current: old, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Superseded)
		assert.Equal(t, old.ID, d.Superseded.ID)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Superseded.Status)
		assert.Equal(t, model.SubscriptionStatusActive, old.Status, "input must not be mutated")
		assert.Equal(t, "sub_2", d.User.ExternalSubscriptionRef)
		assert.Equal(t, model.PlanEnterprise, d.User.SubscriptionPlan)
	})

	t.Run("older creation does not displace a newer subscription", func(t *testing.T) {
		newer := activeSub(uuid.New())
		newer.LastEventAt = t1
		user := subscribedUser(newer)
		ev := event(model.EventSubscriptionCreated, t0)
		ev.ExternalSubscriptionID = "sub_old"
		ev.Plan = model.PlanPro

		d := Transition(TransitionInput{User: user, Current: newer, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Nil(t, d.User)
		assert.Nil(t, d.Superseded)
	})
}

func TestTransition_SubscriptionUpdated(t *testing.T) {
	t.Run("unknown subscription without plan is skipped", func(t *testing.T) {
		d := Transition(TransitionInput{User: newUser(), Event: event(model.EventSubscriptionUpdated, t1)})
		assert.Equal(t, OutcomeSkipped, d.Outcome)
		assert.Equal(t, ReasonPlanUnresolved, d.Reason)
	})

	t.Run("unknown subscription is created from the update", func(t *testing.T) {
		user := newUser()
		ev := event(model.EventSubscriptionUpdated, t1)
		ev.Plan = model.PlanEnterprise
		ev.Status = model.SubscriptionStatusPastDue
		ev.PeriodStart, ev.PeriodEnd = tp(t1), tp(t2)

		d := Transition(TransitionInput{User: user, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Subscription)
		assert.Equal(t, model.SubscriptionStatusPastDue, d.Subscription.Status)
		assert.Equal(t, t1, d.Subscription.LastEventAt)
		require.NotNil(t, d.User)
		assert.Equal(t, model.PlanEnterprise, d.User.SubscriptionPlan)
		assert.Equal(t, model.UserStatusPastDue, d.User.SubscriptionStatus)
	})

	t.Run("late creation is stale against a row built from an update", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.LastEventAt = t1
		ev := event(model.EventSubscriptionCreated, t0)
		ev.Plan = model.PlanPro

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Current: sub, Event: ev})
		assert.Equal(t, OutcomeSkipped, d.Outcome)
		assert.Equal(t, ReasonStaleEvent, d.Reason)
	})

	t.Run("cancel at period end sets ends_at", func(t *testing.T) {
		sub := activeSub(uuid.New())
		ev := event(model.EventSubscriptionUpdated, t0.Add(time.Hour))
		ev.Status = model.SubscriptionStatusActive
		ev.CancelAtPeriodEnd = true
		ev.PeriodStart, ev.PeriodEnd = tp(t0), tp(t1)

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Current: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.True(t, d.Subscription.CancelAtPeriodEnd)
		require.NotNil(t, d.User)
		require.NotNil(t, d.User.SubscriptionEndsAt)
		assert.Equal(t, t1, *d.User.SubscriptionEndsAt)
		assert.Equal(t, model.UserStatusActive, d.User.SubscriptionStatus)
	})

	t.Run("stale update is skipped", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.LastEventAt = t1
		ev := event(model.EventSubscriptionUpdated, t0)
		ev.Status = model.SubscriptionStatusPastDue

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		assert.Equal(t, OutcomeSkipped, d.Outcome)
		assert.Equal(t, ReasonStaleEvent, d.Reason)
	})

	t.Run("update with an older period is skipped", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.CurrentPeriodStart = tp(t1)
		ev := event(model.EventSubscriptionUpdated, t1.Add(time.Hour))
		ev.PeriodStart = tp(t0)

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		assert.Equal(t, ReasonStaleEvent, d.Reason)
	})

	t.Run("update on canceled subscription is skipped", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.Status = model.SubscriptionStatusCanceled
		ev := event(model.EventSubscriptionUpdated, t2)
		ev.Status = model.SubscriptionStatusActive

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		assert.Equal(t, ReasonSubscriptionCanceled, d.Reason)
	})

	t.Run("update with canceled status is treated as cancellation", func(t *testing.T) {
		sub := activeSub(uuid.New())
		ev := event(model.EventSubscriptionUpdated, t0.Add(time.Hour))
		ev.Status = model.SubscriptionStatusCanceled

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Equal(t, model.PlanFree, d.User.SubscriptionPlan)
	})

	t.Run("user untouched when subscription is not current", func(t *testing.T) {
		sub := activeSub(uuid.New())
		user := subscribedUser(sub)
		user.ExternalSubscriptionRef = "sub_other"
		ev := event(model.EventSubscriptionUpdated, t0.Add(time.Hour))
		ev.Status = model.SubscriptionStatusPastDue

		d := Transition(TransitionInput{User: user, Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Nil(t, d.User)
	})
}

func TestTransition_SubscriptionCanceled(t *testing.T) {
	t.Run("cancels and downgrades with grace period", func(t *testing.T) {
		sub := activeSub(uuid.New())
		ev := event(model.EventSubscriptionCanceled, t0.Add(time.Hour))
		ev.PeriodEnd = tp(t1)

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Equal(t, model.PlanFree, d.User.SubscriptionPlan)
		assert.Equal(t, model.UserStatusCanceled, d.User.SubscriptionStatus)
		require.NotNil(t, d.User.SubscriptionEndsAt)
		assert.Equal(t, t1, *d.User.SubscriptionEndsAt)
		assert.True(t, d.User.HasAccess(t0.Add(2*time.Hour)))
		assert.False(t, d.User.HasAccess(t1.Add(time.Second)))
	})

	t.Run("stale cancellation still applies", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.LastEventAt = t1
		ev := event(model.EventSubscriptionCanceled, t0)

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Equal(t, t1, d.Subscription.LastEventAt)
		require.NotNil(t, d.User.SubscriptionEndsAt)
		assert.Equal(t, t1, *d.User.SubscriptionEndsAt, "falls back to the stored period end")
	})

	t.Run("unknown subscription leaves a canceled row", func(t *testing.T) {
		user := newUser()
		ev := event(model.EventSubscriptionCanceled, t0.Add(time.Hour))
		ev.PeriodEnd = tp(t1)

		d := Transition(TransitionInput{User: user, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Subscription)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Equal(t, model.PlanFree, d.Subscription.Plan)
		require.NotNil(t, d.User)
		assert.Equal(t, model.UserStatusCanceled, d.User.SubscriptionStatus)
		assert.Equal(t, t1, *d.User.SubscriptionEndsAt)
	})

	t.Run("canceled row for an unknown subscription keeps other access", func(t *testing.T) {
		cur := activeSub(uuid.New())
		cur.ExternalSubscriptionID = "sub_other"
		ev := event(model.EventSubscriptionCanceled, t0.Add(time.Hour))

		d := Transition(TransitionInput{User: subscribedUser(cur), Current: cur, Event: ev})

		require.NotNil(t, d.Subscription)
		assert.Equal(t, model.SubscriptionStatusCanceled, d.Subscription.Status)
		assert.Nil(t, d.User)
	})

	t.Run("repeat cancellation is a no-op", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.Status = model.SubscriptionStatusCanceled

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: event(model.EventSubscriptionCanceled, t1)})

		assert.Equal(t, OutcomeSkipped, d.Outcome)
	})
}

func TestTransition_PaymentSucceeded(t *testing.T) {
	t.Run("new period advances subscription and resets usage", func(t *testing.T) {
		sub := activeSub(uuid.New())
		user := subscribedUser(sub)
		user.LastUsageReset = tp(t0)
		ev := event(model.EventPaymentSucceeded, t1)
		ev.ExternalPaymentID = "in_2"
		ev.Amount = 2900
		ev.Currency = "usd"
		ev.PeriodStart, ev.PeriodEnd = tp(t1), tp(t2)

		d := Transition(TransitionInput{User: user, Subscription: sub, Current: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Payment)
		assert.Equal(t, model.PaymentStatusSucceeded, d.Payment.Status)
		assert.Equal(t, int64(2900), d.Payment.Amount)
		assert.Equal(t, sub.ID, *d.Payment.SubscriptionID)
		require.NotNil(t, d.Subscription)
		assert.Equal(t, t1, *d.Subscription.CurrentPeriodStart)
		assert.Equal(t, t2, *d.Subscription.CurrentPeriodEnd)
		require.NotNil(t, d.ResetUsageFor)
		assert.Equal(t, t1, *d.ResetUsageFor)
	})

	t.Run("same period does not reset usage again", func(t *testing.T) {
		sub := activeSub(uuid.New())
		user := subscribedUser(sub)
		user.LastUsageReset = tp(t0.Add(time.Minute))
		ev := event(model.EventPaymentSucceeded, t0.Add(time.Hour))
		ev.ExternalPaymentID = "in_1"
		ev.PeriodStart, ev.PeriodEnd = tp(t0), tp(t1)

		d := Transition(TransitionInput{User: user, Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Nil(t, d.ResetUsageFor)
		assert.Nil(t, d.Subscription)
	})

	t.Run("recovers past_due subscription", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.Status = model.SubscriptionStatusPastDue
		ev := event(model.EventPaymentSucceeded, t0.Add(time.Hour))
		ev.ExternalPaymentID = "in_1"

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Current: sub, Event: ev})

		require.NotNil(t, d.Subscription)
		assert.Equal(t, model.SubscriptionStatusActive, d.Subscription.Status)
		assert.Equal(t, model.UserStatusActive, d.User.SubscriptionStatus)
	})

	t.Run("payment on canceled subscription is only ledgered", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.Status = model.SubscriptionStatusCanceled
		ev := event(model.EventPaymentSucceeded, t1)
		ev.ExternalPaymentID = "in_late"
		ev.PeriodStart = tp(t1)

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.NotNil(t, d.Payment)
		assert.Nil(t, d.Subscription)
		assert.Nil(t, d.User)
		assert.Nil(t, d.ResetUsageFor)
	})

	t.Run("standalone one-off payment is ledgered", func(t *testing.T) {
		user := newUser()
		ev := event(model.EventPaymentSucceeded, t0)
		ev.ExternalSubscriptionID = ""
		ev.ExternalPaymentID = "pi_1"
		ev.Amount = 500

		d := Transition(TransitionInput{User: user, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		require.NotNil(t, d.Payment)
		assert.Nil(t, d.Payment.SubscriptionID)
		assert.Nil(t, d.User)
	})

	t.Run("prepaid plan payment grants access until period end", func(t *testing.T) {
		user := newUser()
		ev := event(model.EventPaymentSucceeded, t0)
		ev.Provider = model.ProviderWechat
		ev.ExternalSubscriptionID = ""
		ev.ExternalPaymentID = "4200001"
		ev.Plan = model.PlanPro
		ev.PeriodStart, ev.PeriodEnd = tp(t0), tp(t1)

		d := Transition(TransitionInput{User: user, Event: ev})

		require.NotNil(t, d.User)
		assert.Equal(t, model.PlanPro, d.User.SubscriptionPlan)
		assert.Equal(t, model.UserStatusActive, d.User.SubscriptionStatus)
		assert.Equal(t, t1, *d.User.SubscriptionEndsAt)
		assert.Equal(t, t0, *d.ResetUsageFor)
	})

	prepaid := func(at, start, end time.Time) *model.NormalizedEvent {
		ev := event(model.EventPaymentSucceeded, at)
		ev.Provider = model.ProviderAlipay
		ev.ExternalSubscriptionID = ""
		ev.ExternalPaymentID = "2025030122001"
		ev.Plan = model.PlanPro
		ev.PeriodStart, ev.PeriodEnd = tp(start), tp(end)
		return ev
	}

	t.Run("early prepaid renewal stacks on remaining access", func(t *testing.T) {
		user := newUser()
		user.SubscriptionPlan = model.PlanPro
		user.SubscriptionStatus = model.UserStatusActive
		user.SubscriptionProvider = model.ProviderAlipay
		user.SubscriptionEndsAt = tp(t1)
		bought := t1.Add(-10 * 24 * time.Hour)
		period := 30 * 24 * time.Hour

		d := Transition(TransitionInput{User: user, Event: prepaid(bought, bought, bought.Add(period))})

		require.NotNil(t, d.User)
		assert.Equal(t, t1.Add(period), *d.User.SubscriptionEndsAt)
	})

	t.Run("prepaid purchase after expiry starts fresh", func(t *testing.T) {
		user := newUser()
		user.SubscriptionPlan = model.PlanPro
		user.SubscriptionStatus = model.UserStatusActive
		user.SubscriptionEndsAt = tp(t0)

		d := Transition(TransitionInput{User: user, Event: prepaid(t1, t1, t2)})

		require.NotNil(t, d.User)
		assert.Equal(t, t2, *d.User.SubscriptionEndsAt)
	})

	t.Run("access from a canceled subscription is kept but not stacked", func(t *testing.T) {
		user := newUser()
		user.SubscriptionStatus = model.UserStatusCanceled
		user.ExternalSubscriptionRef = "sub_1"
		user.SubscriptionEndsAt = tp(t2)
		start := t1.Add(-24 * time.Hour)

		d := Transition(TransitionInput{User: user, Event: prepaid(start, start, t1)})

		require.NotNil(t, d.User)
		assert.Equal(t, t2, *d.User.SubscriptionEndsAt)
		assert.Empty(t, d.User.ExternalSubscriptionRef)
	})
}

func TestTransition_PaymentFailed(t *testing.T) {
	t.Run("marks subscription and user past_due", func(t *testing.T) {
		sub := activeSub(uuid.New())
		ev := event(model.EventPaymentFailed, t0.Add(time.Hour))
		ev.ExternalPaymentID = "in_1"
		ev.FailureReason = "card_declined"

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Current: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.Equal(t, model.PaymentStatusFailed, d.Payment.Status)
		assert.Equal(t, "card_declined", d.Payment.FailureReason)
		assert.Equal(t, model.SubscriptionStatusPastDue, d.Subscription.Status)
		assert.Equal(t, model.UserStatusPastDue, d.User.SubscriptionStatus)
	})

	t.Run("stale failure does not demote", func(t *testing.T) {
		sub := activeSub(uuid.New())
		sub.LastEventAt = t1
		ev := event(model.EventPaymentFailed, t0)
		ev.ExternalPaymentID = "in_0"

		d := Transition(TransitionInput{User: subscribedUser(sub), Subscription: sub, Event: ev})

		require.Equal(t, OutcomeApplied, d.Outcome)
		assert.NotNil(t, d.Payment)
		assert.Nil(t, d.Subscription)
		assert.Nil(t, d.User)
	})
}

func TestTransition_Guards(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		d := Transition(TransitionInput{Event: event(model.EventSubscriptionCreated, t0)})
		assert.Equal(t, ReasonUserNotFound, d.Reason)
	})

	t.Run("subscription owned by someone else", func(t *testing.T) {
		sub := activeSub(uuid.New())
		d := Transition(TransitionInput{User: newUser(), Subscription: sub, Event: event(model.EventSubscriptionUpdated, t1)})
		assert.Equal(t, ReasonSubscriptionOwner, d.Reason)
	})
}
