package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe webhook configuration.
type StripeConfig struct {
	WebhookSecret    string
	Tolerance        time.Duration
	SkipVerification bool
}

// Stripe adapts Stripe webhook deliveries.
type Stripe struct {
	cfg   StripeConfig
	plans *PlanResolver
}

// NewStripe creates a Stripe adapter.
func NewStripe(cfg StripeConfig, plans *PlanResolver) *Stripe {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	return &Stripe{cfg: cfg, plans: plans}
}

func (s *Stripe) Name() string { return model.ProviderStripe }

// Verify checks the Stripe-Signature header against the raw body.
func (s *Stripe) Verify(raw []byte, headers http.Header) error {
	ok, err := checkSecret(s.cfg.WebhookSecret, s.cfg.SkipVerification)
	if !ok {
		return err
	}
	if err := webhook.ValidatePayloadWithTolerance(raw, headers.Get("Stripe-Signature"), s.cfg.WebhookSecret, s.cfg.Tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (s *Stripe) Normalize(raw []byte, _ http.Header) (*model.NormalizedEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, malformed("stripe event: %v", err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, malformed("stripe event without id or data")
	}

	ev := &model.NormalizedEvent{
		Provider:        model.ProviderStripe,
		ExternalEventID: event.ID,
		ProviderType:    string(event.Type),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.checkoutCompleted(ev, event.Data.Raw)
	case "customer.subscription.created":
		return s.subscription(ev, event.Data.Raw, model.EventSubscriptionCreated)
	case "customer.subscription.updated":
		return s.subscription(ev, event.Data.Raw, model.EventSubscriptionUpdated)
	case "customer.subscription.deleted":
		return s.subscription(ev, event.Data.Raw, model.EventSubscriptionCanceled)
	case "invoice.paid", "invoice.payment_succeeded":
		return s.invoice(ev, event.Data.Raw, model.EventPaymentSucceeded)
	case "invoice.payment_failed":
		return s.invoice(ev, event.Data.Raw, model.EventPaymentFailed)
	default:
		return nil, unsupported(model.ProviderStripe, string(event.Type))
	}
}

func (s *Stripe) checkoutCompleted(ev *model.NormalizedEvent, raw json.RawMessage) (*model.NormalizedEvent, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, malformed("checkout session: %v", err)
	}

	email := cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		email = cs.CustomerDetails.Email
	}
	meta := cs.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	if cs.ClientReferenceID != "" {
		if _, ok := meta["user_id"]; !ok {
			meta["user_id"] = cs.ClientReferenceID
		}
	}
	setUserRef(ev, meta, email)
	ev.Plan = s.plans.Resolve(lookup(meta, planKeys), meta["price_id"])

	switch cs.Mode {
	case stripe.CheckoutSessionModeSubscription:
		if cs.Subscription == nil || cs.Subscription.ID == "" {
			return nil, malformed("subscription checkout %s without subscription", cs.ID)
		}
		ev.Kind = model.EventSubscriptionCreated
		ev.Status = model.SubscriptionStatusActive
		ev.ExternalSubscriptionID = cs.Subscription.ID
		return ev, nil
	case stripe.CheckoutSessionModePayment:
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil, unsupported(model.ProviderStripe, "checkout.session.completed (unpaid)")
		}
		ev.Kind = model.EventPaymentSucceeded
		ev.ExternalPaymentID = cs.ID
		if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
			ev.ExternalPaymentID = cs.PaymentIntent.ID
		}
		ev.Amount = cs.AmountTotal
		ev.Currency = lowerCurrency(string(cs.Currency))
		ev.Description = "checkout " + cs.ID
		return ev, nil
	default:
		return nil, unsupported(model.ProviderStripe, "checkout.session.completed mode "+string(cs.Mode))
	}
}

func (s *Stripe) subscription(ev *model.NormalizedEvent, raw json.RawMessage, kind model.EventKind) (*model.NormalizedEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed("subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed("subscription without id")
	}

	email := ""
	if sub.Customer != nil {
		email = sub.Customer.Email
	}
	setUserRef(ev, sub.Metadata, email)

	ev.ExternalSubscriptionID = sub.ID
	ev.Status = stripeStatus(sub.Status)
	ev.PeriodStart = unixTime(sub.CurrentPeriodStart)
	ev.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
	ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	ev.Plan = s.plans.Resolve(append([]string{lookup(sub.Metadata, planKeys)}, subscriptionPrices(&sub)...)...)

	ev.Kind = kind
	if kind == model.EventSubscriptionUpdated && ev.Status == model.SubscriptionStatusCanceled {
		ev.Kind = model.EventSubscriptionCanceled
	}
	if ev.Kind == model.EventSubscriptionCanceled {
		ev.Status = model.SubscriptionStatusCanceled
	}
	return ev, nil
}

func (s *Stripe) invoice(ev *model.NormalizedEvent, raw json.RawMessage, kind model.EventKind) (*model.NormalizedEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, malformed("invoice: %v", err)
	}
	if inv.ID == "" {
		return nil, malformed("invoice without id")
	}

	setUserRef(ev, inv.Metadata, inv.CustomerEmail)
	ev.Kind = kind
	ev.ExternalPaymentID = inv.ID
	ev.Currency = lowerCurrency(string(inv.Currency))
	ev.Description = "invoice " + inv.Number
	if inv.Number == "" {
		ev.Description = "invoice " + inv.ID
	}
	if inv.Subscription != nil {
		ev.ExternalSubscriptionID = inv.Subscription.ID
	}

	if kind == model.EventPaymentSucceeded {
		ev.Amount = inv.AmountPaid
	} else {
		ev.Amount = inv.AmountDue
		ev.FailureReason = fmt.Sprintf("payment attempt %d failed", inv.AttemptCount)
	}

	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			ev.PeriodStart = unixTime(line.Period.Start)
			ev.PeriodEnd = unixTime(line.Period.End)
			if line.Price != nil {
				product := ""
				if line.Price.Product != nil {
					product = line.Price.Product.ID
				}
				ev.Plan = s.plans.Resolve(lookup(inv.Metadata, planKeys), line.Price.LookupKey, line.Price.ID, product)
			}
			break
		}
	}
	return ev, nil
}

func subscriptionPrices(sub *stripe.Subscription) []string {
	if sub.Items == nil {
		return nil
	}
	var out []string
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		out = append(out, item.Price.LookupKey, item.Price.ID)
		if item.Price.Product != nil {
			out = append(out, item.Price.Product.ID)
		}
	}
	return out
}

func stripeStatus(s stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionStatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return model.SubscriptionStatusPastDue
	default:
		return ""
	}
}

var _ outbound.ProviderAdapterPort = (*Stripe)(nil)
