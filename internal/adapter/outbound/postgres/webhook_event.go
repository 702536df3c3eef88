package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DedupGate is the durable dedup gate backed by the webhook_events table.
type DedupGate struct {
	db    *gorm.DB
	lease time.Duration
	now   func() time.Time
}

// NewDedupGate creates a dedup gate whose in-flight claims expire after lease.
func NewDedupGate(db *gorm.DB, lease time.Duration) *DedupGate {
	return &DedupGate{db: db, lease: lease, now: func() time.Time { return time.Now().UTC() }}
}

func (a *DedupGate) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	now := a.now()
	event := &model.WebhookEvent{
		ID:        uuid.New(),
		Provider:  provider,
		EventID:   eventID,
		Status:    model.WebhookEventProcessing,
		ClaimedAt: now,
		CreatedAt: now,
	}
	result := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("claim webhook event: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// A failed attempt or an abandoned claim can be taken over.
	result = a.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Where("status = ? OR (status = ? AND claimed_at < ?)",
			model.WebhookEventFailed, model.WebhookEventProcessing, now.Add(-a.lease)).
		Updates(map[string]any{
			"status":     model.WebhookEventProcessing,
			"claimed_at": now,
			"error":      nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("reclaim webhook event: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (a *DedupGate) Complete(ctx context.Context, c model.DedupCompletion) error {
	now := a.now()
	updates := map[string]any{
		"status":       model.WebhookEventProcessed,
		"outcome":      c.Outcome,
		"processed_at": now,
	}
	if c.EventType != "" {
		updates["event_type"] = c.EventType
	}
	if c.Event != nil {
		if payload, err := json.Marshal(c.Event); err == nil {
			updates["payload"] = datatypes.JSON(payload)
		}
	}
	if c.Err != nil {
		updates["status"] = model.WebhookEventFailed
		updates["error"] = c.Err.Error()
	}

	err := a.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", c.Provider, c.EventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("complete webhook event: %w", err)
	}
	return nil
}

func (a *DedupGate) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result := a.db.WithContext(ctx).
		Where("created_at < ? AND status <> ?", cutoff, model.WebhookEventProcessing).
		Delete(&model.WebhookEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge webhook events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Compile-time checks
var (
	_ outbound.DedupGatePort    = (*DedupGate)(nil)
	_ outbound.DedupJanitorPort = (*DedupGate)(nil)
)
