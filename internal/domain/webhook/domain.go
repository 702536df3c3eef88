package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mailcraft/server/internal/domain/billing"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/mailcraft/server/internal/utils/requestctx"
	"go.uber.org/zap"
)

// Receipt outcomes besides the billing ones (applied, skipped).
const (
	OutcomeDuplicate   = "duplicate"
	OutcomeUnsupported = "unsupported"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
)

const (
	defaultProcessingTimeout = 10 * time.Second
	completionTimeout        = 5 * time.Second
)

// Delivery is one raw webhook request.
type Delivery struct {
	// Provider names the adapter; empty means detect it from the request.
	Provider string
	Raw      []byte
	Headers  http.Header
}

// Receipt describes how a delivery was handled.
type Receipt struct {
	Provider string
	EventID  string
	Kind     model.EventKind
	Outcome  string
	Reason   string

	// AckContentType and AckBody are set for providers that expect a
	// specific acknowledgement body.
	AckContentType string
	AckBody        []byte
}

// MetricsRecorder is what the pipeline reports to.
type MetricsRecorder interface {
	RecordWebhook(provider, kind, outcome string, duration time.Duration)
	RecordSignatureFailure(provider string)
	RecordDuplicate(provider string)
	RecordUsageReset(provider string)
	RecordLedgerDuplicate(provider string)
}

// Config holds pipeline settings.
type Config struct {
	ProcessingTimeout time.Duration
}

// WebhookDomain defines the webhook ingestion pipeline.
type WebhookDomain interface {
	// Ingest verifies, normalizes, deduplicates and reconciles one delivery.
	// The returned error wraps one of the package sentinels; a nil error means
	// the delivery must be acknowledged.
	Ingest(ctx context.Context, d Delivery) (*Receipt, error)
}

// webhookDomain implements WebhookDomain.
type webhookDomain struct {
	registry outbound.ProviderRegistryPort
	gate     outbound.DedupGatePort
	billing  billing.BillingDomain
	archive  outbound.PayloadArchivePort
	metrics  MetricsRecorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewWebhookDomain creates the ingestion pipeline. archive may be nil.
func NewWebhookDomain(
	registry outbound.ProviderRegistryPort,
	gate outbound.DedupGatePort,
	billingDomain billing.BillingDomain,
	archive outbound.PayloadArchivePort,
	metrics MetricsRecorder,
	cfg Config,
	logger *zap.Logger,
) WebhookDomain {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}
	return &webhookDomain{
		registry: registry,
		gate:     gate,
		billing:  billingDomain,
		archive:  archive,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *webhookDomain) Ingest(ctx context.Context, del Delivery) (*Receipt, error) {
	start := d.now()

	adapter, err := d.resolve(del)
	if err != nil {
		d.logger.Warn("webhook for unknown provider", zap.String("provider", del.Provider), zap.Error(err))
		return nil, err
	}

	name := adapter.Name()
	rec := &Receipt{Provider: name}
	if ack, ok := adapter.(outbound.AckResponder); ok {
		rec.AckContentType, rec.AckBody = ack.Ack()
	}
	defer func() {
		d.metrics.RecordWebhook(name, string(rec.Kind), rec.Outcome, d.now().Sub(start))
	}()

	log := d.logger.With(zap.String("provider", name))
	if id := requestctx.RequestID(ctx); id != "" {
		log = log.With(zap.String("request_id", id))
	}

	if err := adapter.Verify(del.Raw, del.Headers); err != nil {
		rec.Outcome = OutcomeRejected
		d.metrics.RecordSignatureFailure(name)
		log.Warn("webhook verification failed", zap.Error(err))
		return rec, err
	}

	ev, err := adapter.Normalize(del.Raw, del.Headers)
	if errors.Is(err, ErrUnsupportedEvent) {
		rec.Outcome = OutcomeUnsupported
		rec.Reason = err.Error()
		log.Info("ignoring unsupported webhook event", zap.Error(err))
		return rec, nil
	}
	if err != nil {
		rec.Outcome = OutcomeRejected
		log.Warn("webhook payload rejected", zap.Error(err))
		return rec, err
	}
	rec.EventID = ev.ExternalEventID
	rec.Kind = ev.Kind
	log = log.With(zap.String("event_id", ev.ExternalEventID), zap.String("kind", string(ev.Kind)))

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProcessingTimeout)
	defer cancel()

	d.archivePayload(ctx, name, ev.ExternalEventID, del.Raw, log)

	claimed, err := d.gate.Claim(ctx, name, ev.ExternalEventID)
	if err != nil {
		rec.Outcome = OutcomeFailed
		log.Error("dedup claim failed", zap.Error(err))
		return rec, fmt.Errorf("%w: dedup claim: %v", ErrProcessingFailed, err)
	}
	if !claimed {
		rec.Outcome = OutcomeDuplicate
		d.metrics.RecordDuplicate(name)
		log.Info("duplicate webhook delivery")
		return rec, nil
	}

	res := d.billing.Reconcile(ctx, ev)
	d.complete(ctx, model.DedupCompletion{
		Provider:  name,
		EventID:   ev.ExternalEventID,
		EventType: ev.ProviderType,
		Outcome:   res.Outcome.String(),
		Event:     ev,
		Err:       res.Err,
	}, log)

	rec.Outcome = res.Outcome.String()
	rec.Reason = res.Reason
	if res.Failed() {
		return rec, fmt.Errorf("%w: %v", ErrProcessingFailed, res.Err)
	}
	if res.UsageReset {
		d.metrics.RecordUsageReset(name)
	}
	if res.Reason == billing.ReasonDuplicatePayment {
		d.metrics.RecordLedgerDuplicate(name)
	}
	log.Info("webhook processed", zap.String("outcome", rec.Outcome), zap.String("reason", res.Reason))
	return rec, nil
}

func (d *webhookDomain) resolve(del Delivery) (outbound.ProviderAdapterPort, error) {
	if del.Provider == "" {
		return d.registry.Detect(del.Headers, del.Raw)
	}
	return d.registry.Get(del.Provider)
}

// complete records the result even when the request context is already done,
// otherwise a failed claim would stay locked until its lease expires.
func (d *webhookDomain) complete(ctx context.Context, c model.DedupCompletion, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()
	if err := d.gate.Complete(ctx, c); err != nil {
		log.Error("dedup completion failed", zap.Error(err))
	}
}

func (d *webhookDomain) archivePayload(ctx context.Context, provider, eventID string, raw []byte, log *zap.Logger) {
	if d.archive == nil {
		return
	}
	if err := d.archive.Archive(ctx, provider, eventID, raw); err != nil {
		log.Warn("failed to archive webhook payload", zap.Error(err))
	}
}
