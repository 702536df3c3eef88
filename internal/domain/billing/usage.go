package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/port/outbound"
)

// resetUsage zeroes the monthly counters once per billing period.
// The store re-checks last_usage_reset < periodStart, so a redelivered
// payment for the same period never clears usage written in between.
func resetUsage(ctx context.Context, users outbound.UserDatabasePort, userID uuid.UUID, periodStart, now time.Time) (bool, error) {
	reset, err := users.MarkUsageReset(ctx, userID, periodStart, now)
	if err != nil {
		return false, fmt.Errorf("mark usage reset: %w", err)
	}
	return reset, nil
}
