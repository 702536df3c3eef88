package webhook

import "errors"

// Delivery errors. Provider adapters return these so the inbound layer can
// map them to status codes without knowing the provider.
var (
	// ErrInvalidSignature is returned when a delivery fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrSecretNotConfigured is returned when no verification secret is configured
	// and verification was not explicitly disabled.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")

	// ErrUnsupportedEvent is returned for event types that carry no billing meaning.
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// ErrMalformedPayload is returned when a verified body cannot be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnknownProvider is returned for unregistered or undetectable providers.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrProcessingFailed is returned when reconciliation failed and the
	// provider should redeliver.
	ErrProcessingFailed = errors.New("webhook processing failed")
)
