package outbound

import (
	"context"
	"net/http"
	"time"

	"github.com/mailcraft/server/internal/model"
)

// ProviderAdapterPort verifies and normalizes the webhooks of one payment provider.
type ProviderAdapterPort interface {
	// Name returns the provider name used in routes and dedup keys.
	Name() string

	// Verify checks the authenticity of the raw, unparsed body.
	Verify(raw []byte, headers http.Header) error

	// Normalize maps a verified payload onto a NormalizedEvent.
	Normalize(raw []byte, headers http.Header) (*model.NormalizedEvent, error)
}

// AckResponder is implemented by providers that expect a specific success body.
type AckResponder interface {
	// Ack returns the content type and body acknowledging a delivery.
	Ack() (contentType string, body []byte)
}

// ProviderRegistryPort resolves provider adapters.
type ProviderRegistryPort interface {
	// Get returns the adapter registered under name.
	Get(name string) (ProviderAdapterPort, error)

	// Detect guesses the provider of a generic notify delivery.
	Detect(headers http.Header, raw []byte) (ProviderAdapterPort, error)

	// Names lists registered providers.
	Names() []string
}

// DedupGatePort decides whether a provider event should be processed.
type DedupGatePort interface {
	// Claim marks (provider, eventID) as in flight. It returns false when the
	// event was already processed or is being processed elsewhere.
	Claim(ctx context.Context, provider, eventID string) (bool, error)

	// Complete records the processing result. A completion carrying an error
	// releases the claim so the provider's retry can be processed.
	Complete(ctx context.Context, c model.DedupCompletion) error
}

// DedupJanitorPort removes expired dedup markers.
type DedupJanitorPort interface {
	// Purge deletes markers created before cutoff and returns how many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// PayloadArchivePort stores raw webhook bodies for audit.
type PayloadArchivePort interface {
	Archive(ctx context.Context, provider, eventID string, raw []byte) error
}
