// Package provider implements the webhook adapters of the supported payment
// providers. Each adapter verifies a raw delivery and maps it onto a
// model.NormalizedEvent; it never touches persistence.
package provider

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/domain/webhook"
	"github.com/mailcraft/server/internal/model"
)

// Errors shared with the ingestion pipeline.
var (
	ErrInvalidSignature    = webhook.ErrInvalidSignature
	ErrSecretNotConfigured = webhook.ErrSecretNotConfigured
	ErrUnsupportedEvent    = webhook.ErrUnsupportedEvent
	ErrMalformedPayload    = webhook.ErrMalformedPayload
	ErrUnknownProvider     = webhook.ErrUnknownProvider
)

// Metadata keys the checkout flows attach to provider objects.
var (
	userIDKeys = []string{"user_id", "userId", "userID"}
	planKeys   = []string{"plan", "tier"}
	emailKeys  = []string{"email", "user_email"}
)

// checkSecret decides whether verification can run.
// It returns (false, nil) when verification is explicitly skipped.
func checkSecret(secret string, skip bool) (bool, error) {
	if secret != "" {
		return true, nil
	}
	if skip {
		return false, nil
	}
	return false, ErrSecretNotConfigured
}

// hexMACEqual compares a hex signature from a header to the computed MAC.
func hexMACEqual(sigHex string, mac []byte) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return false
	}
	return hmac.Equal(sig, mac)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func unsupported(provider, eventType string) error {
	return fmt.Errorf("%w: %s %s", ErrUnsupportedEvent, provider, eventType)
}

func lookup(meta map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(meta[k]); v != "" {
			return v
		}
	}
	return ""
}

// setUserRef fills the user reference from metadata, falling back to email.
func setUserRef(ev *model.NormalizedEvent, meta map[string]string, email string) {
	if raw := lookup(meta, userIDKeys); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			ev.UserID = &id
		}
	}
	if email == "" {
		email = lookup(meta, emailKeys)
	}
	ev.UserEmail = strings.TrimSpace(email)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func parseRFC3339(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func lowerCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
