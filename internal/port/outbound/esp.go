package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TemplateInput is a template pushed to an email service provider.
type TemplateInput struct {
	Name    string
	HTML    string
	Subject string
}

// TemplateResult is the outcome of CreateTemplate.
type TemplateResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	EditURL string `json:"edit_url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthStatus is the outcome of CheckAuth.
type AuthStatus struct {
	Authorized bool   `json:"authorized"`
	Error      string `json:"error,omitempty"`
}

// CallbackResult is the outcome of an OAuth callback exchange.
type CallbackResult struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ESPAdapterPort is the capability surface of an email service provider.
type ESPAdapterPort interface {
	Name() string
	ValidateConfig() bool
	CheckAuth(ctx context.Context) AuthStatus
	CreateTemplate(ctx context.Context, in TemplateInput) TemplateResult
	FormatError(err error) string
}

// OAuthESPAdapterPort is an ESP that authorizes through OAuth.
type OAuthESPAdapterPort interface {
	ESPAdapterPort
	GetAuthURL(state string) string
	HandleCallback(ctx context.Context, code string) CallbackResult
}

// ESPOAuthState ties an OAuth state parameter to the dashboard user that started the flow.
type ESPOAuthState struct {
	UserID uuid.UUID `json:"user_id"`
	ESP    string    `json:"esp"`
}

// ESPStateStorePort stores OAuth state parameters for ESP authorization flows.
type ESPStateStorePort interface {
	// Save stores state for ttl.
	Save(ctx context.Context, state string, owner ESPOAuthState, ttl time.Duration) error

	// Consume returns and removes the owner of state. Unknown or expired
	// states return ErrStateNotFound.
	Consume(ctx context.Context, state string) (*ESPOAuthState, error)
}

// ErrStateNotFound is returned for unknown or expired OAuth states.
var ErrStateNotFound = errors.New("oauth state not found")
