// Package esp exposes the email service provider capability surface to the
// dashboard and owns the OAuth connect flow.
package esp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/mailcraft/server/internal/utils/random"
	"go.uber.org/zap"
)

const stateTTL = 10 * time.Minute

// Adapters looks up ESP adapters by name.
type Adapters interface {
	Get(name string) (outbound.ESPAdapterPort, bool)
	OAuth(name string) (outbound.OAuthESPAdapterPort, bool)
	Names() []string
}

// ESPDomain defines the ESP service interface.
type ESPDomain interface {
	List(ctx context.Context) []model.ESPInfo
	CheckAuth(ctx context.Context, name string) (*outbound.AuthStatus, error)
	CreateTemplate(ctx context.Context, name string, in outbound.TemplateInput) (*outbound.TemplateResult, error)

	// AuthURL starts an OAuth connect flow for userID.
	AuthURL(ctx context.Context, userID uuid.UUID, name string) (string, error)

	// Callback finishes the flow started by AuthURL. The state is single use.
	Callback(ctx context.Context, name, state, code string) (*outbound.CallbackResult, error)
}

type espDomain struct {
	adapters Adapters
	states   outbound.ESPStateStorePort
	logger   *zap.Logger
}

// NewESPDomain creates a new ESP domain service.
func NewESPDomain(adapters Adapters, states outbound.ESPStateStorePort, logger *zap.Logger) ESPDomain {
	return &espDomain{adapters: adapters, states: states, logger: logger}
}

func (d *espDomain) List(ctx context.Context) []model.ESPInfo {
	names := d.adapters.Names()
	out := make([]model.ESPInfo, 0, len(names))
	for _, name := range names {
		a, _ := d.adapters.Get(name)
		_, oauth := d.adapters.OAuth(name)
		out = append(out, model.ESPInfo{Name: name, Configured: a.ValidateConfig(), OAuth: oauth})
	}
	return out
}

func (d *espDomain) adapter(name string) (outbound.ESPAdapterPort, error) {
	a, ok := d.adapters.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownESP, name)
	}
	return a, nil
}

func (d *espDomain) CheckAuth(ctx context.Context, name string) (*outbound.AuthStatus, error) {
	a, err := d.adapter(name)
	if err != nil {
		return nil, err
	}
	status := a.CheckAuth(ctx)
	if !status.Authorized {
		d.logger.Info("esp auth check failed", zap.String("esp", name), zap.String("error", status.Error))
	}
	return &status, nil
}

func (d *espDomain) CreateTemplate(ctx context.Context, name string, in outbound.TemplateInput) (*outbound.TemplateResult, error) {
	a, err := d.adapter(name)
	if err != nil {
		return nil, err
	}
	res := a.CreateTemplate(ctx, in)
	if !res.Success {
		d.logger.Warn("esp template creation failed", zap.String("esp", name), zap.String("error", res.Error))
	}
	return &res, nil
}

func (d *espDomain) oauthAdapter(name string) (outbound.OAuthESPAdapterPort, error) {
	if _, err := d.adapter(name); err != nil {
		return nil, err
	}
	a, ok := d.adapters.OAuth(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOAuth, name)
	}
	return a, nil
}

func (d *espDomain) AuthURL(ctx context.Context, userID uuid.UUID, name string) (string, error) {
	a, err := d.oauthAdapter(name)
	if err != nil {
		return "", err
	}
	state, err := random.SecureToken(32)
	if err != nil {
		return "", err
	}
	if err := d.states.Save(ctx, state, outbound.ESPOAuthState{UserID: userID, ESP: name}, stateTTL); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}
	return a.GetAuthURL(state), nil
}

func (d *espDomain) Callback(ctx context.Context, name, state, code string) (*outbound.CallbackResult, error) {
	a, err := d.oauthAdapter(name)
	if err != nil {
		return nil, err
	}
	owner, err := d.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, outbound.ErrStateNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("load oauth state: %w", err)
	}
	if owner.ESP != name {
		return nil, ErrInvalidState
	}

	res := a.HandleCallback(ctx, code)
	log := d.logger.With(zap.String("esp", name), zap.String("user_id", owner.UserID.String()))
	if !res.Success {
		log.Warn("esp oauth callback failed", zap.String("error", res.Error))
	} else {
		log.Info("esp account connected")
	}
	return &res, nil
}
