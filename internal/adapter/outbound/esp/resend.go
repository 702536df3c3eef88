package esp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/port/outbound"
)

const resendAPI = "https://api.resend.com"

type resend struct {
	apiKey string
	base   string
	call   *caller
}

// NewResend creates the Resend adapter.
func NewResend(cfg config.ESPKeyConfig, client *http.Client, recorder Recorder) outbound.ESPAdapterPort {
	return &resend{
		apiKey: cfg.APIKey,
		base:   baseURL(cfg.BaseURL, resendAPI),
		call:   &caller{esp: "resend", client: client, recorder: orNop(recorder), errorMessage: resendMessage},
	}
}

func (r *resend) Name() string { return "resend" }

func (r *resend) ValidateConfig() bool {
	return strings.HasPrefix(r.apiKey, "re_")
}

func (r *resend) CheckAuth(ctx context.Context) outbound.AuthStatus {
	if !r.ValidateConfig() {
		return outbound.AuthStatus{Error: r.FormatError(errNotConfigured)}
	}
	if err := r.call.do(ctx, "check_auth", http.MethodGet, r.base+"/domains", bearer(r.apiKey), nil, nil); err != nil {
		return outbound.AuthStatus{Error: r.FormatError(err)}
	}
	return outbound.AuthStatus{Authorized: true}
}

func (r *resend) CreateTemplate(ctx context.Context, in outbound.TemplateInput) outbound.TemplateResult {
	if !r.ValidateConfig() {
		return outbound.TemplateResult{Error: r.FormatError(errNotConfigured)}
	}

	var tpl struct {
		ID string `json:"id"`
	}
	body := map[string]string{"name": in.Name, "subject": in.Subject, "html": in.HTML}
	if err := r.call.do(ctx, "create_template", http.MethodPost, r.base+"/templates", bearer(r.apiKey), body, &tpl); err != nil {
		return outbound.TemplateResult{Error: r.FormatError(err)}
	}
	return outbound.TemplateResult{
		Success: true,
		ID:      tpl.ID,
		EditURL: "https://resend.com/templates/" + tpl.ID,
	}
}

func (r *resend) FormatError(err error) string { return formatError("Resend", err) }

func resendMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	return payload.Message
}

// Compile-time check
var _ outbound.ESPAdapterPort = (*resend)(nil)
