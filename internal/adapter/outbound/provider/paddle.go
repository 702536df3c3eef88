package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk"

	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

const (
	defaultPaddleTolerance = 5 * time.Minute
	paddleSignatureHeader  = "Paddle-Signature"
)

// PaddleConfig holds Paddle Billing webhook configuration.
type PaddleConfig struct {
	WebhookSecret    string
	Tolerance        time.Duration
	SkipVerification bool
}

// Paddle adapts Paddle Billing notifications.
type Paddle struct {
	cfg      PaddleConfig
	plans    *PlanResolver
	verifier *paddle.WebhookVerifier
	now      func() time.Time
}

// NewPaddle creates a Paddle adapter.
func NewPaddle(cfg PaddleConfig, plans *PlanResolver) *Paddle {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultPaddleTolerance
	}
	return &Paddle{
		cfg:      cfg,
		plans:    plans,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		now:      time.Now,
	}
}

func (p *Paddle) Name() string { return model.ProviderPaddle }

// Verify checks "Paddle-Signature: ts=<unix>;h1=<hex hmac of ts:body>". The
// MAC is checked by the Paddle SDK; the timestamp window is enforced here.
func (p *Paddle) Verify(raw []byte, headers http.Header) error {
	ok, err := checkSecret(p.cfg.WebhookSecret, p.cfg.SkipVerification)
	if !ok {
		return err
	}

	sig := strings.TrimSpace(headers.Get(paddleSignatureHeader))
	var ts string
	for _, part := range strings.Split(sig, ";") {
		if k, v, found := strings.Cut(strings.TrimSpace(part), "="); found && k == "ts" {
			ts = v
		}
	}
	if ts == "" {
		return fmt.Errorf("%w: missing paddle signature", ErrInvalidSignature)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if age := p.now().Sub(time.Unix(sec, 0)); age > p.cfg.Tolerance || age < -p.cfg.Tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	req.Header.Set(paddleSignatureHeader, sig)
	valid, err := p.verifier.Verify(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type paddleItem struct {
	Price struct {
		ID        string `json:"id"`
		ProductID string `json:"product_id"`
	} `json:"price"`
}

type paddleSubscription struct {
	ID                   string        `json:"id"`
	Status               string        `json:"status"`
	CustomerID           string        `json:"customer_id"`
	CustomData           metadata      `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action      string `json:"action"`
		EffectiveAt string `json:"effective_at"`
	} `json:"scheduled_change"`
	Items []paddleItem `json:"items"`
}

type paddleTransaction struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	SubscriptionID string        `json:"subscription_id"`
	CustomData     metadata      `json:"custom_data"`
	CurrencyCode   string        `json:"currency_code"`
	BillingPeriod  *paddlePeriod `json:"billing_period"`
	Items          []paddleItem  `json:"items"`
	Details        struct {
		Totals struct {
			Total        string `json:"total"`
			CurrencyCode string `json:"currency_code"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

func (p *Paddle) Normalize(raw []byte, _ http.Header) (*model.NormalizedEvent, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("paddle notification: %v", err)
	}
	if env.EventID == "" || len(env.Data) == 0 {
		return nil, malformed("paddle notification without event_id or data")
	}
	occurred := parseRFC3339(env.OccurredAt)
	if occurred == nil {
		return nil, malformed("paddle occurred_at %q", env.OccurredAt)
	}

	ev := &model.NormalizedEvent{
		Provider:        model.ProviderPaddle,
		ExternalEventID: env.EventID,
		ProviderType:    env.EventType,
		OccurredAt:      *occurred,
	}

	switch env.EventType {
	case "subscription.created", "subscription.activated":
		return p.subscription(ev, env.Data, model.EventSubscriptionCreated)
	case "subscription.updated", "subscription.past_due", "subscription.resumed", "subscription.paused":
		return p.subscription(ev, env.Data, model.EventSubscriptionUpdated)
	case "subscription.canceled":
		return p.subscription(ev, env.Data, model.EventSubscriptionCanceled)
	case "transaction.completed":
		return p.transaction(ev, env.Data, model.EventPaymentSucceeded)
	case "transaction.payment_failed":
		return p.transaction(ev, env.Data, model.EventPaymentFailed)
	default:
		return nil, unsupported(model.ProviderPaddle, env.EventType)
	}
}

func (p *Paddle) subscription(ev *model.NormalizedEvent, raw json.RawMessage, kind model.EventKind) (*model.NormalizedEvent, error) {
	var sub paddleSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed("paddle subscription: %v", err)
	}
	if sub.ID == "" {
		return nil, malformed("paddle subscription without id")
	}

	setUserRef(ev, sub.CustomData, "")
	ev.ExternalSubscriptionID = sub.ID
	ev.Status = paddleStatus(sub.Status)
	if sub.CurrentBillingPeriod != nil {
		ev.PeriodStart = parseRFC3339(sub.CurrentBillingPeriod.StartsAt)
		ev.PeriodEnd = parseRFC3339(sub.CurrentBillingPeriod.EndsAt)
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == "cancel" {
		ev.CancelAtPeriodEnd = true
		if at := parseRFC3339(sub.ScheduledChange.EffectiveAt); at != nil {
			ev.PeriodEnd = at
		}
	}
	ev.Plan = p.plans.Resolve(append([]string{lookup(sub.CustomData, planKeys)}, paddlePrices(sub.Items)...)...)

	ev.Kind = kind
	if ev.Status == model.SubscriptionStatusCanceled {
		ev.Kind = model.EventSubscriptionCanceled
	}
	return ev, nil
}

func (p *Paddle) transaction(ev *model.NormalizedEvent, raw json.RawMessage, kind model.EventKind) (*model.NormalizedEvent, error) {
	var txn paddleTransaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, malformed("paddle transaction: %v", err)
	}
	if txn.ID == "" {
		return nil, malformed("paddle transaction without id")
	}

	setUserRef(ev, txn.CustomData, "")
	ev.Kind = kind
	ev.ExternalPaymentID = txn.ID
	ev.ExternalSubscriptionID = txn.SubscriptionID
	ev.Description = "transaction " + txn.ID

	// Paddle totals are strings of minor units.
	if total := txn.Details.Totals.Total; total != "" {
		amount, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return nil, malformed("paddle total %q", total)
		}
		ev.Amount = amount
	}
	ev.Currency = lowerCurrency(txn.Details.Totals.CurrencyCode)
	if ev.Currency == "" {
		ev.Currency = lowerCurrency(txn.CurrencyCode)
	}
	if txn.BillingPeriod != nil {
		ev.PeriodStart = parseRFC3339(txn.BillingPeriod.StartsAt)
		ev.PeriodEnd = parseRFC3339(txn.BillingPeriod.EndsAt)
	}
	ev.Plan = p.plans.Resolve(append([]string{lookup(txn.CustomData, planKeys)}, paddlePrices(txn.Items)...)...)
	if kind == model.EventPaymentFailed {
		ev.FailureReason = "payment_failed"
		for _, pay := range txn.Payments {
			if pay.ErrorCode != "" {
				ev.FailureReason = pay.ErrorCode
				break
			}
		}
	}
	return ev, nil
}

func paddlePrices(items []paddleItem) []string {
	out := make([]string, 0, 2*len(items))
	for _, item := range items {
		out = append(out, item.Price.ID, item.Price.ProductID)
	}
	return out
}

func paddleStatus(s string) model.SubscriptionStatus {
	switch s {
	case "active", "trialing":
		return model.SubscriptionStatusActive
	case "past_due", "paused":
		return model.SubscriptionStatusPastDue
	case "canceled":
		return model.SubscriptionStatusCanceled
	default:
		return ""
	}
}

var _ outbound.ProviderAdapterPort = (*Paddle)(nil)
