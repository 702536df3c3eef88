package esp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/port/outbound"
	"golang.org/x/oauth2"
)

const mailchimpLogin = "https://login.mailchimp.com"

// mailchimp authorizes through OAuth2 and talks to the datacenter-specific
// Marketing API returned by the metadata endpoint.
type mailchimp struct {
	oauth  *oauth2.Config
	client *http.Client
	call   *caller

	loginBase string
	apiBase   func(dc string) string

	mu    sync.RWMutex
	token string
	dc    string
}

// NewMailchimp creates the Mailchimp adapter. A configured access token and
// server prefix skip the OAuth flow.
func NewMailchimp(cfg config.MailchimpConfig, client *http.Client, recorder Recorder) outbound.OAuthESPAdapterPort {
	return newMailchimp(cfg, client, recorder, mailchimpLogin)
}

func newMailchimp(cfg config.MailchimpConfig, client *http.Client, recorder Recorder, loginBase string) *mailchimp {
	return &mailchimp{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   loginBase + "/oauth2/authorize",
				TokenURL:  loginBase + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:    client,
		call:      &caller{esp: "mailchimp", client: client, recorder: orNop(recorder), errorMessage: mailchimpMessage},
		loginBase: loginBase,
		apiBase:   func(dc string) string { return "https://" + dc + ".api.mailchimp.com" },
		token:     cfg.AccessToken,
		dc:        cfg.ServerPrefix,
	}
}

func (m *mailchimp) Name() string { return "mailchimp" }

func (m *mailchimp) ValidateConfig() bool {
	return m.oauth.ClientID != "" && m.oauth.ClientSecret != "" && m.oauth.RedirectURL != ""
}

func (m *mailchimp) credentials() (token, dc string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.dc
}

func (m *mailchimp) CheckAuth(ctx context.Context) outbound.AuthStatus {
	token, dc := m.credentials()
	if token == "" || dc == "" {
		return outbound.AuthStatus{Error: "Mailchimp account is not connected"}
	}
	if err := m.call.do(ctx, "check_auth", http.MethodGet, m.apiBase(dc)+"/3.0/ping", bearer(token), nil, nil); err != nil {
		return outbound.AuthStatus{Error: m.FormatError(err)}
	}
	return outbound.AuthStatus{Authorized: true}
}

// CreateTemplate creates a classic template. Mailchimp templates carry no
// subject; it is set on the campaign.
func (m *mailchimp) CreateTemplate(ctx context.Context, in outbound.TemplateInput) outbound.TemplateResult {
	token, dc := m.credentials()
	if token == "" || dc == "" {
		return outbound.TemplateResult{Error: "Mailchimp account is not connected"}
	}

	var tpl struct {
		ID int64 `json:"id"`
	}
	body := map[string]string{"name": in.Name, "html": in.HTML}
	if err := m.call.do(ctx, "create_template", http.MethodPost, m.apiBase(dc)+"/3.0/templates", bearer(token), body, &tpl); err != nil {
		return outbound.TemplateResult{Error: m.FormatError(err)}
	}
	id := strconv.FormatInt(tpl.ID, 10)
	return outbound.TemplateResult{
		Success: true,
		ID:      id,
		EditURL: fmt.Sprintf("https://%s.admin.mailchimp.com/templates/edit?id=%s", dc, id),
	}
}

func (m *mailchimp) GetAuthURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

// HandleCallback exchanges code for a token and resolves the account's datacenter.
func (m *mailchimp) HandleCallback(ctx context.Context, code string) outbound.CallbackResult {
	if !m.ValidateConfig() {
		return outbound.CallbackResult{Error: m.FormatError(errNotConfigured)}
	}
	if code == "" {
		return outbound.CallbackResult{Error: "missing authorization code"}
	}

	token, err := m.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, m.client), code)
	m.call.recorder.RecordESPRequest("mailchimp", "token_exchange", err == nil)
	if err != nil {
		return outbound.CallbackResult{Error: m.FormatError(err)}
	}

	var meta struct {
		DC string `json:"dc"`
	}
	header := http.Header{"Authorization": []string{"OAuth " + token.AccessToken}}
	if err := m.call.do(ctx, "metadata", http.MethodGet, m.loginBase+"/oauth2/metadata", header, nil, &meta); err != nil {
		return outbound.CallbackResult{Error: m.FormatError(err)}
	}

	m.mu.Lock()
	m.token = token.AccessToken
	m.dc = meta.DC
	m.mu.Unlock()

	return outbound.CallbackResult{Success: true, AccessToken: token.AccessToken}
}

func (m *mailchimp) FormatError(err error) string { return formatError("Mailchimp", err) }

func mailchimpMessage(body []byte) string {
	var payload struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Title
}

// Compile-time check
var _ outbound.OAuthESPAdapterPort = (*mailchimp)(nil)
