package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

// CreemConfig holds Creem webhook configuration.
type CreemConfig struct {
	WebhookSecret    string
	SkipVerification bool
}

// Creem adapts Creem webhook deliveries.
type Creem struct {
	cfg   CreemConfig
	plans *PlanResolver
}

// NewCreem creates a Creem adapter.
func NewCreem(cfg CreemConfig, plans *PlanResolver) *Creem {
	return &Creem{cfg: cfg, plans: plans}
}

func (c *Creem) Name() string { return model.ProviderCreem }

// Verify checks the creem-signature header, a hex HMAC-SHA256 of the body.
func (c *Creem) Verify(raw []byte, headers http.Header) error {
	ok, err := checkSecret(c.cfg.WebhookSecret, c.cfg.SkipVerification)
	if !ok {
		return err
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(raw)
	if !hexMACEqual(headers.Get("creem-signature"), mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

type creemEnvelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	CreatedAt int64           `json:"created_at"`
	Object    json.RawMessage `json:"object"`
}

type creemProduct struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type creemCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type creemSubscription struct {
	ID                     string         `json:"id"`
	Status                 string         `json:"status"`
	Product                *creemProduct  `json:"product"`
	Customer               *creemCustomer `json:"customer"`
	CurrentPeriodStartDate string         `json:"current_period_start_date"`
	CurrentPeriodEndDate   string         `json:"current_period_end_date"`
	CanceledAt             string         `json:"canceled_at"`
	LastTransactionID      string         `json:"last_transaction_id"`
	Metadata               metadata       `json:"metadata"`
}

type creemCheckout struct {
	ID    string `json:"id"`
	Order *struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"order"`
	Product      *creemProduct      `json:"product"`
	Customer     *creemCustomer     `json:"customer"`
	Subscription *creemSubscription `json:"subscription"`
	Metadata     metadata           `json:"metadata"`
}

func (c *Creem) Normalize(raw []byte, _ http.Header) (*model.NormalizedEvent, error) {
	var env creemEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("creem event: %v", err)
	}
	if env.ID == "" || len(env.Object) == 0 {
		return nil, malformed("creem event without id or object")
	}
	if env.CreatedAt <= 0 {
		return nil, malformed("creem event without created_at")
	}

	ev := &model.NormalizedEvent{
		Provider:        model.ProviderCreem,
		ExternalEventID: env.ID,
		ProviderType:    env.EventType,
		OccurredAt:      time.UnixMilli(env.CreatedAt).UTC(),
	}

	switch env.EventType {
	case "checkout.completed":
		return c.checkout(ev, env.Object)
	case "subscription.active":
		return c.subscription(ev, env.Object, model.EventSubscriptionCreated)
	case "subscription.update", "subscription.trialing":
		return c.subscription(ev, env.Object, model.EventSubscriptionUpdated)
	case "subscription.canceled", "subscription.expired":
		return c.subscription(ev, env.Object, model.EventSubscriptionCanceled)
	case "subscription.paid":
		return c.subscription(ev, env.Object, model.EventPaymentSucceeded)
	default:
		return nil, unsupported(model.ProviderCreem, env.EventType)
	}
}

func (c *Creem) checkout(ev *model.NormalizedEvent, raw json.RawMessage) (*model.NormalizedEvent, error) {
	var co creemCheckout
	if err := json.Unmarshal(raw, &co); err != nil {
		return nil, malformed("creem checkout: %v", err)
	}

	email := ""
	if co.Customer != nil {
		email = co.Customer.Email
	}
	setUserRef(ev, co.Metadata, email)
	productID := ""
	if co.Product != nil {
		productID = co.Product.ID
	}
	ev.Plan = c.plans.Resolve(lookup(co.Metadata, planKeys), productID)

	if co.Subscription != nil && co.Subscription.ID != "" {
		ev.Kind = model.EventSubscriptionCreated
		ev.Status = model.SubscriptionStatusActive
		ev.ExternalSubscriptionID = co.Subscription.ID
		ev.PeriodStart = parseRFC3339(co.Subscription.CurrentPeriodStartDate)
		ev.PeriodEnd = parseRFC3339(co.Subscription.CurrentPeriodEndDate)
		return ev, nil
	}

	if co.Order == nil || co.Order.ID == "" {
		return nil, malformed("creem checkout %s without order or subscription", co.ID)
	}
	ev.Kind = model.EventPaymentSucceeded
	ev.ExternalPaymentID = co.Order.ID
	ev.Amount = co.Order.Amount
	ev.Currency = lowerCurrency(co.Order.Currency)
	ev.Description = "order " + co.Order.ID
	return ev, nil
}

func (c *Creem) subscription(ev *model.NormalizedEvent, raw json.RawMessage, kind model.EventKind) (*model.NormalizedEvent, error) {
	var sub creemSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed("creem subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed("creem subscription without id")
	}

	email := ""
	if sub.Customer != nil {
		email = sub.Customer.Email
	}
	setUserRef(ev, sub.Metadata, email)
	productID := ""
	if sub.Product != nil {
		productID = sub.Product.ID
	}

	ev.Kind = kind
	ev.ExternalSubscriptionID = sub.ID
	ev.Status = creemStatus(sub.Status)
	ev.PeriodStart = parseRFC3339(sub.CurrentPeriodStartDate)
	ev.PeriodEnd = parseRFC3339(sub.CurrentPeriodEndDate)
	ev.Plan = c.plans.Resolve(lookup(sub.Metadata, planKeys), productID)
	if sub.Status == "scheduled_cancel" {
		ev.CancelAtPeriodEnd = true
	}

	switch {
	case kind == model.EventSubscriptionCanceled:
		ev.Status = model.SubscriptionStatusCanceled
	case kind == model.EventPaymentSucceeded:
		// One payment per billing period.
		ev.ExternalPaymentID = sub.LastTransactionID
		if ev.ExternalPaymentID == "" && ev.PeriodStart != nil {
			ev.ExternalPaymentID = sub.ID + ":" + ev.PeriodStart.Format(time.RFC3339)
		}
		if sub.Product != nil {
			ev.Amount = sub.Product.Price
			ev.Currency = lowerCurrency(sub.Product.Currency)
		}
		ev.Description = "subscription " + sub.ID
	case ev.Status == model.SubscriptionStatusCanceled:
		ev.Kind = model.EventSubscriptionCanceled
	}
	return ev, nil
}

func creemStatus(s string) model.SubscriptionStatus {
	switch s {
	case "active", "trialing", "scheduled_cancel":
		return model.SubscriptionStatusActive
	case "past_due", "unpaid", "paused":
		return model.SubscriptionStatusPastDue
	case "canceled", "expired":
		return model.SubscriptionStatusCanceled
	default:
		return ""
	}
}

var _ outbound.ProviderAdapterPort = (*Creem)(nil)
