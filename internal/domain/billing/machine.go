package billing

import (
	"time"

	"github.com/mailcraft/server/internal/model"
)

// Outcome classifies the result of applying one event.
type Outcome int

const (
	// OutcomeApplied means state changed (or a ledger row was written).
	OutcomeApplied Outcome = iota
	// OutcomeSkipped means the event was understood but is a safe no-op.
	OutcomeSkipped
	// OutcomeFailed means processing failed and the provider should retry.
	OutcomeFailed
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skip reasons.
const (
	ReasonUserNotFound         = "user not found"
	ReasonInvalidEvent         = "invalid event"
	ReasonSubscriptionExists   = "subscription already exists"
	ReasonSubscriptionNotFound = "subscription not found"
	ReasonSubscriptionCanceled = "subscription already canceled"
	ReasonSubscriptionOwner    = "subscription belongs to another user"
	ReasonPlanUnresolved       = "plan unresolved"
	ReasonStaleEvent           = "stale event"
	ReasonDuplicatePayment     = "duplicate payment"
	ReasonUnsupportedKind      = "unsupported event kind"
)

// TransitionInput is everything the state machine needs to decide.
type TransitionInput struct {
	User *model.User
	// Subscription is the row matching the event's external subscription ID.
	Subscription *model.Subscription
	// Current is the user's current (active or past_due) subscription.
	Current *model.Subscription
	Event   *model.NormalizedEvent
	Now     time.Time
}

// Decision is the outcome of a transition. Non-nil records are new versions
// to persist; inputs are never mutated.
type Decision struct {
	Outcome Outcome
	Reason  string

	User         *model.User
	Subscription *model.Subscription
	Superseded   *model.Subscription
	Payment      *model.Payment

	// ResetUsageFor is the period start that should trigger a usage reset.
	ResetUsageFor *time.Time
}

func skip(reason string) Decision {
	return Decision{Outcome: OutcomeSkipped, Reason: reason}
}

// Transition computes the new billing state for one normalized event.
// It is a pure function: IDs of new rows are left for the caller to assign.
func Transition(in TransitionInput) Decision {
	ev := in.Event
	if in.User == nil {
		return skip(ReasonUserNotFound)
	}
	if in.Subscription != nil && in.Subscription.UserID != in.User.ID {
		return skip(ReasonSubscriptionOwner)
	}

	switch ev.Kind {
	case model.EventSubscriptionCreated:
		return onCreated(in)
	case model.EventSubscriptionUpdated:
		if ev.Status == model.SubscriptionStatusCanceled {
			return onCanceled(in)
		}
		return onUpdated(in)
	case model.EventSubscriptionCanceled:
		return onCanceled(in)
	case model.EventPaymentSucceeded:
		return onPaymentSucceeded(in)
	case model.EventPaymentFailed:
		return onPaymentFailed(in)
	default:
		return skip(ReasonUnsupportedKind)
	}
}

func onCreated(in TransitionInput) Decision {
	ev := in.Event
	if in.Subscription != nil {
		// A second creation signal for a live row (checkout and
		// customer.subscription.created both fire) only fills in details.
		// A canceled row is never resurrected.
		if in.Subscription.IsCanceled() {
			return skip(ReasonSubscriptionExists)
		}
		return onUpdated(in)
	}
	if !ev.Plan.IsPaid() {
		return skip(ReasonPlanUnresolved)
	}

	status := model.SubscriptionStatusActive
	if ev.Status == model.SubscriptionStatusPastDue {
		status = model.SubscriptionStatusPastDue
	}
	return createSubscription(in, status)
}

// createSubscription inserts the row described by the event and makes it the
// user's current subscription unless a newer one already is.
func createSubscription(in TransitionInput, status model.SubscriptionStatus) Decision {
	ev := in.Event
	sub := &model.Subscription{
		Provider:               ev.Provider,
		ExternalSubscriptionID: ev.ExternalSubscriptionID,
		UserID:                 in.User.ID,
		Plan:                   ev.Plan,
		Status:                 status,
		CurrentPeriodStart:     copyTime(ev.PeriodStart),
		CurrentPeriodEnd:       copyTime(ev.PeriodEnd),
		CancelAtPeriodEnd:      ev.CancelAtPeriodEnd,
		LastEventAt:            ev.OccurredAt,
	}

	d := Decision{Outcome: OutcomeApplied, Subscription: sub}

	if cur := in.Current; cur != nil && cur.ExternalSubscriptionID != ev.ExternalSubscriptionID {
		if cur.LastEventAt.After(ev.OccurredAt) {
			// The user already moved on to a newer subscription.
			sub.Status = model.SubscriptionStatusCanceled
			sub.CanceledAt = copyTime(&ev.OccurredAt)
			return d
		}
		old := cur.Clone()
		old.Status = model.SubscriptionStatusCanceled
		old.CanceledAt = copyTime(&ev.OccurredAt)
		old.LastEventAt = ev.OccurredAt
		d.Superseded = old
	}

	user := in.User.Clone()
	user.SubscriptionPlan = sub.Plan
	user.SubscriptionStatus = sub.Status.UserStatus()
	user.SubscriptionProvider = sub.Provider
	user.ExternalSubscriptionRef = sub.ExternalSubscriptionID
	user.SubscriptionEndsAt = endsAt(sub)
	d.User = user
	return d
}

func onUpdated(in TransitionInput) Decision {
	ev := in.Event
	sub := in.Subscription
	if sub == nil {
		// The update overtook the creation. The row is built from the update
		// so the late creation is judged stale against it.
		if ev.ExternalSubscriptionID == "" {
			return skip(ReasonSubscriptionNotFound)
		}
		if !ev.Plan.IsPaid() {
			return skip(ReasonPlanUnresolved)
		}
		status := ev.Status
		if status == "" {
			status = model.SubscriptionStatusActive
		}
		return createSubscription(in, status)
	}
	if sub.IsCanceled() {
		return skip(ReasonSubscriptionCanceled)
	}
	if isStale(sub, ev) {
		return skip(ReasonStaleEvent)
	}

	next := sub.Clone()
	if ev.Status != "" {
		next.Status = ev.Status
	}
	if ev.Plan.IsPaid() {
		next.Plan = ev.Plan
	}
	if ev.PeriodStart != nil {
		next.CurrentPeriodStart = copyTime(ev.PeriodStart)
	}
	if ev.PeriodEnd != nil {
		next.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
	}
	next.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	next.LastEventAt = ev.OccurredAt

	d := Decision{Outcome: OutcomeApplied, Subscription: next}
	if in.User.IsCurrentSubscription(sub) {
		user := in.User.Clone()
		user.SubscriptionPlan = next.Plan
		user.SubscriptionStatus = next.Status.UserStatus()
		user.SubscriptionEndsAt = endsAt(next)
		d.User = user
	}
	return d
}

// onCanceled applies regardless of event time: cancellation is terminal.
func onCanceled(in TransitionInput) Decision {
	ev := in.Event
	sub := in.Subscription
	if sub == nil {
		if ev.ExternalSubscriptionID == "" {
			return skip(ReasonSubscriptionNotFound)
		}
		return tombstone(in)
	}
	if sub.IsCanceled() {
		return skip(ReasonSubscriptionCanceled)
	}

	next := sub.Clone()
	next.Status = model.SubscriptionStatusCanceled
	next.CancelAtPeriodEnd = false
	next.CanceledAt = copyTime(&ev.OccurredAt)
	if ev.PeriodEnd != nil {
		next.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
	}
	if ev.OccurredAt.After(next.LastEventAt) {
		next.LastEventAt = ev.OccurredAt
	}

	d := Decision{Outcome: OutcomeApplied, Subscription: next}
	if in.User.IsCurrentSubscription(sub) {
		user := in.User.Clone()
		user.SubscriptionPlan = model.PlanFree
		user.SubscriptionStatus = model.UserStatusCanceled
		user.SubscriptionEndsAt = copyTime(next.CurrentPeriodEnd)
		d.User = user
	}
	return d
}

// tombstone records a cancellation that overtook its creation as a canceled
// row, so the late creation can never activate it.
func tombstone(in TransitionInput) Decision {
	ev := in.Event
	plan := ev.Plan
	if !plan.IsPaid() {
		plan = model.PlanFree
	}
	sub := &model.Subscription{
		Provider:               ev.Provider,
		ExternalSubscriptionID: ev.ExternalSubscriptionID,
		UserID:                 in.User.ID,
		Plan:                   plan,
		Status:                 model.SubscriptionStatusCanceled,
		CurrentPeriodStart:     copyTime(ev.PeriodStart),
		CurrentPeriodEnd:       copyTime(ev.PeriodEnd),
		CanceledAt:             copyTime(&ev.OccurredAt),
		LastEventAt:            ev.OccurredAt,
	}
	d := Decision{Outcome: OutcomeApplied, Subscription: sub}

	// With no other current subscription or prepaid access the user ends where
	// created-then-canceled would have left them.
	st := in.User.SubscriptionStatus
	if in.Current == nil && (st == model.UserStatusFree || st == model.UserStatusCanceled) {
		user := in.User.Clone()
		user.SubscriptionPlan = model.PlanFree
		user.SubscriptionStatus = model.UserStatusCanceled
		user.SubscriptionProvider = sub.Provider
		user.ExternalSubscriptionRef = sub.ExternalSubscriptionID
		user.SubscriptionEndsAt = copyTime(sub.CurrentPeriodEnd)
		d.User = user
	}
	return d
}

func onPaymentSucceeded(in TransitionInput) Decision {
	ev := in.Event
	sub := in.Subscription
	d := Decision{Outcome: OutcomeApplied, Payment: ledgerRow(in.User, sub, ev, model.PaymentStatusSucceeded)}

	if sub == nil {
		applyPrepaid(in, &d)
		return d
	}
	if sub.IsCanceled() {
		return d
	}

	if !isStale(sub, ev) {
		next := sub.Clone()
		changed := false
		if periodAdvanced(sub, ev) {
			next.CurrentPeriodStart = copyTime(ev.PeriodStart)
			if ev.PeriodEnd != nil {
				next.CurrentPeriodEnd = copyTime(ev.PeriodEnd)
			}
			changed = true
		}
		if next.Status == model.SubscriptionStatusPastDue {
			next.Status = model.SubscriptionStatusActive
			changed = true
		}
		if changed {
			next.LastEventAt = ev.OccurredAt
			d.Subscription = next
			if in.User.IsCurrentSubscription(sub) {
				user := in.User.Clone()
				user.SubscriptionPlan = next.Plan
				user.SubscriptionStatus = next.Status.UserStatus()
				user.SubscriptionEndsAt = endsAt(next)
				d.User = user
			}
		}
	}

	d.ResetUsageFor = usageResetFor(in.User, ev)
	return d
}

// applyPrepaid handles a one-off payment with no subscription row. If it
// carries a paid plan and a period, it grants that plan until the period end,
// unless the user is already on a current subscription.
func applyPrepaid(in TransitionInput, d *Decision) {
	ev := in.Event
	if !ev.Plan.IsPaid() || ev.PeriodEnd == nil || in.Current != nil {
		if ev.PeriodStart != nil && ev.ExternalSubscriptionID != "" {
			// Invoice for a subscription whose creation has not arrived yet.
			d.ResetUsageFor = usageResetFor(in.User, ev)
		}
		return
	}
	user := in.User.Clone()
	user.SubscriptionPlan = ev.Plan
	user.SubscriptionStatus = model.UserStatusActive
	user.SubscriptionProvider = ev.Provider
	user.ExternalSubscriptionRef = ""
	user.SubscriptionEndsAt = prepaidEnd(in.User, ev)
	d.User = user
	d.ResetUsageFor = usageResetFor(in.User, ev)
}

// prepaidEnd extends unexpired prepaid access by the purchased period, so a
// renewal bought early keeps the days already paid for. Access held through a
// subscription is never shortened but is not carried over either.
func prepaidEnd(user *model.User, ev *model.NormalizedEvent) *time.Time {
	prev := user.SubscriptionEndsAt
	stackable := user.ExternalSubscriptionRef == "" && user.SubscriptionStatus == model.UserStatusActive
	if prev != nil && stackable && ev.PeriodStart != nil && prev.After(*ev.PeriodStart) {
		stacked := prev.Add(ev.PeriodEnd.Sub(*ev.PeriodStart)).UTC()
		return &stacked
	}
	if prev != nil && prev.After(*ev.PeriodEnd) {
		return copyTime(prev)
	}
	return copyTime(ev.PeriodEnd)
}

func onPaymentFailed(in TransitionInput) Decision {
	ev := in.Event
	sub := in.Subscription
	d := Decision{Outcome: OutcomeApplied, Payment: ledgerRow(in.User, sub, ev, model.PaymentStatusFailed)}
	if sub == nil || sub.IsCanceled() || isStale(sub, ev) {
		return d
	}

	next := sub.Clone()
	next.Status = model.SubscriptionStatusPastDue
	next.LastEventAt = ev.OccurredAt
	d.Subscription = next
	if in.User.IsCurrentSubscription(sub) {
		user := in.User.Clone()
		user.SubscriptionStatus = model.UserStatusPastDue
		d.User = user
	}
	return d
}

// isStale reports whether ev is older than what the row already reflects.
func isStale(sub *model.Subscription, ev *model.NormalizedEvent) bool {
	if ev.OccurredAt.Before(sub.LastEventAt) {
		return true
	}
	return ev.PeriodStart != nil && sub.CurrentPeriodStart != nil && ev.PeriodStart.Before(*sub.CurrentPeriodStart)
}

func periodAdvanced(sub *model.Subscription, ev *model.NormalizedEvent) bool {
	if ev.PeriodStart == nil {
		return false
	}
	return sub.CurrentPeriodStart == nil || ev.PeriodStart.After(*sub.CurrentPeriodStart)
}

func usageResetFor(user *model.User, ev *model.NormalizedEvent) *time.Time {
	if ev.PeriodStart == nil {
		return nil
	}
	if user.LastUsageReset != nil && !user.LastUsageReset.Before(*ev.PeriodStart) {
		return nil
	}
	return copyTime(ev.PeriodStart)
}

func endsAt(sub *model.Subscription) *time.Time {
	if sub.CancelAtPeriodEnd {
		return copyTime(sub.CurrentPeriodEnd)
	}
	return nil
}

func ledgerRow(user *model.User, sub *model.Subscription, ev *model.NormalizedEvent, status model.PaymentStatus) *model.Payment {
	p := &model.Payment{
		Provider:          ev.Provider,
		ExternalPaymentID: ev.ExternalPaymentID,
		Status:            status,
		UserID:            user.ID,
		Amount:            ev.Amount,
		Currency:          ev.Currency,
		Description:       ev.Description,
		OccurredAt:        ev.OccurredAt,
	}
	if status == model.PaymentStatusFailed {
		p.FailureReason = ev.FailureReason
	}
	if sub != nil {
		id := sub.ID
		p.SubscriptionID = &id
	}
	return p
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
