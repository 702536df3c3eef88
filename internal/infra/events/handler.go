package events

import (
	"context"

	"github.com/mailcraft/server/internal/model"
	"go.uber.org/zap"
)

// Handler is the interface for event handlers.
type Handler interface {
	// Handles returns the list of event types this handler can process.
	Handles() []string

	// Handle processes the given event. Events are published once per
	// committed change, but a handler must tolerate seeing one twice after
	// a process restart.
	Handle(ctx context.Context, event *model.BillingEvent) error
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc struct {
	eventTypes []string
	fn         func(context.Context, *model.BillingEvent) error
}

// NewHandlerFunc creates a new HandlerFunc.
func NewHandlerFunc(eventTypes []string, fn func(context.Context, *model.BillingEvent) error) *HandlerFunc {
	return &HandlerFunc{
		eventTypes: eventTypes,
		fn:         fn,
	}
}

// Handles returns the list of event types this handler can process.
func (h *HandlerFunc) Handles() []string {
	return h.eventTypes
}

// Handle processes the given event.
func (h *HandlerFunc) Handle(ctx context.Context, event *model.BillingEvent) error {
	return h.fn(ctx, event)
}

// NewAuditHandler logs every billing change as an audit line.
func NewAuditHandler(logger *zap.Logger) Handler {
	log := logger.Named("audit")
	return NewHandlerFunc(
		[]string{model.BillingEventPlanChanged, model.BillingEventUsageReset, model.BillingEventPaymentRecorded},
		func(_ context.Context, ev *model.BillingEvent) error {
			fields := []zap.Field{
				zap.String("event_type", ev.Type),
				zap.String("event_id", ev.ID.String()),
				zap.String("user_id", ev.UserID.String()),
				zap.String("provider", ev.Provider),
				zap.String("source", string(ev.Source)),
			}
			if ev.Plan != "" {
				fields = append(fields, zap.String("plan", string(ev.Plan)), zap.String("status", string(ev.Status)))
			}
			if ev.Payment != nil {
				fields = append(fields,
					zap.String("external_payment_id", ev.Payment.ExternalPaymentID),
					zap.Int64("amount", ev.Payment.Amount),
					zap.String("currency", ev.Payment.Currency),
					zap.String("payment_status", string(ev.Payment.Status)),
				)
			}
			log.Info("billing change", fields...)
			return nil
		},
	)
}
