package esp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/port/outbound"
)

const sendGridAPI = "https://api.sendgrid.com"

type sendGrid struct {
	apiKey string
	base   string
	call   *caller
}

// NewSendGrid creates the SendGrid adapter.
func NewSendGrid(cfg config.ESPKeyConfig, client *http.Client, recorder Recorder) outbound.ESPAdapterPort {
	return &sendGrid{
		apiKey: cfg.APIKey,
		base:   baseURL(cfg.BaseURL, sendGridAPI),
		call:   &caller{esp: "sendgrid", client: client, recorder: orNop(recorder), errorMessage: sendGridMessage},
	}
}

func (s *sendGrid) Name() string { return "sendgrid" }

func (s *sendGrid) ValidateConfig() bool {
	return strings.HasPrefix(s.apiKey, "SG.")
}

func (s *sendGrid) CheckAuth(ctx context.Context) outbound.AuthStatus {
	if !s.ValidateConfig() {
		return outbound.AuthStatus{Error: s.FormatError(errNotConfigured)}
	}
	if err := s.call.do(ctx, "check_auth", http.MethodGet, s.base+"/v3/scopes", bearer(s.apiKey), nil, nil); err != nil {
		return outbound.AuthStatus{Error: s.FormatError(err)}
	}
	return outbound.AuthStatus{Authorized: true}
}

// CreateTemplate creates a dynamic template and its first active version.
func (s *sendGrid) CreateTemplate(ctx context.Context, in outbound.TemplateInput) outbound.TemplateResult {
	if !s.ValidateConfig() {
		return outbound.TemplateResult{Error: s.FormatError(errNotConfigured)}
	}

	var tpl struct {
		ID string `json:"id"`
	}
	err := s.call.do(ctx, "create_template", http.MethodPost, s.base+"/v3/templates", bearer(s.apiKey),
		map[string]string{"name": in.Name, "generation": "dynamic"}, &tpl)
	if err != nil {
		return outbound.TemplateResult{Error: s.FormatError(err)}
	}

	version := map[string]any{
		"name":         in.Name,
		"subject":      in.Subject,
		"html_content": in.HTML,
		"active":       1,
	}
	err = s.call.do(ctx, "create_template_version", http.MethodPost,
		s.base+"/v3/templates/"+tpl.ID+"/versions", bearer(s.apiKey), version, nil)
	if err != nil {
		return outbound.TemplateResult{ID: tpl.ID, Error: s.FormatError(err)}
	}

	return outbound.TemplateResult{
		Success: true,
		ID:      tpl.ID,
		EditURL: "https://mc.sendgrid.com/dynamic-templates/" + tpl.ID,
	}
}

func (s *sendGrid) FormatError(err error) string { return formatError("SendGrid", err) }

func sendGridMessage(body []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &payload) != nil || len(payload.Errors) == 0 {
		return ""
	}
	return payload.Errors[0].Message
}

// Compile-time check
var _ outbound.ESPAdapterPort = (*sendGrid)(nil)
