package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

// recordPayment appends p to the ledger. A row that already exists for the
// same (provider, external payment id, status) is reported as not inserted.
func recordPayment(ctx context.Context, payments outbound.PaymentDatabasePort, p *model.Payment, now time.Time) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	inserted, err := payments.Insert(ctx, p)
	if err != nil {
		return false, fmt.Errorf("insert payment %s/%s: %w", p.Provider, p.ExternalPaymentID, err)
	}
	return inserted, nil
}
