package esp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/infra/httpclient"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	esp, op string
	ok      bool
}

type fakeRecorder struct{ calls []call }

func (r *fakeRecorder) RecordESPRequest(esp, op string, ok bool) {
	r.calls = append(r.calls, call{esp, op, ok})
}

func decode(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestSendGrid(t *testing.T) {
	ctx := context.Background()
	tpl := outbound.TemplateInput{Name: "Welcome", HTML: "<p>hi</p>", Subject: "Hello"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v3/scopes", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer SG.good" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errors":[{"message":"authorization required"}]}`)
			return
		}
		fmt.Fprint(w, `{"scopes":["templates.create"]}`)
	})
	mux.HandleFunc("POST /v3/templates", func(w http.ResponseWriter, r *http.Request) {
		body := decode(t, r)
		assert.Equal(t, "dynamic", body["generation"])
		fmt.Fprint(w, `{"id":"d-123"}`)
	})
	mux.HandleFunc("POST /v3/templates/d-123/versions", func(w http.ResponseWriter, r *http.Request) {
		body := decode(t, r)
		assert.Equal(t, "Hello", body["subject"])
		assert.Equal(t, "<p>hi</p>", body["html_content"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"v-1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("validate config", func(t *testing.T) {
		assert.True(t, NewSendGrid(config.ESPKeyConfig{APIKey: "SG.good"}, srv.Client(), nil).ValidateConfig())
		assert.False(t, NewSendGrid(config.ESPKeyConfig{APIKey: "bad"}, srv.Client(), nil).ValidateConfig())
	})

	t.Run("check auth", func(t *testing.T) {
		rec := &fakeRecorder{}
		ok := NewSendGrid(config.ESPKeyConfig{APIKey: "SG.good", BaseURL: srv.URL}, srv.Client(), rec).CheckAuth(ctx)
		assert.True(t, ok.Authorized)

		denied := NewSendGrid(config.ESPKeyConfig{APIKey: "SG.other", BaseURL: srv.URL}, srv.Client(), rec).CheckAuth(ctx)
		assert.False(t, denied.Authorized)
		assert.Equal(t, "SendGrid rejected the credentials", denied.Error)

		assert.Equal(t, []call{{"sendgrid", "check_auth", true}, {"sendgrid", "check_auth", false}}, rec.calls)
	})

	t.Run("create template", func(t *testing.T) {
		res := NewSendGrid(config.ESPKeyConfig{APIKey: "SG.good", BaseURL: srv.URL}, srv.Client(), nil).CreateTemplate(ctx, tpl)
		assert.True(t, res.Success)
		assert.Equal(t, "d-123", res.ID)
		assert.Equal(t, "https://mc.sendgrid.com/dynamic-templates/d-123", res.EditURL)
	})

	t.Run("not configured", func(t *testing.T) {
		res := NewSendGrid(config.ESPKeyConfig{}, srv.Client(), nil).CreateTemplate(ctx, tpl)
		assert.False(t, res.Success)
		assert.Equal(t, "SendGrid is not configured", res.Error)
	})
}

func TestResend(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/domains":
			fmt.Fprint(w, `{"data":[]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/templates":
			body := decode(t, r)
			if body["name"] == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				fmt.Fprint(w, `{"message":"name is required"}`)
				return
			}
			fmt.Fprint(w, `{"id":"tpl_9"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewResend(config.ESPKeyConfig{APIKey: "re_key", BaseURL: srv.URL + "/"}, srv.Client(), nil)

	assert.True(t, r.CheckAuth(ctx).Authorized)

	res := r.CreateTemplate(ctx, outbound.TemplateInput{Name: "Digest", HTML: "<p/>", Subject: "Weekly"})
	assert.True(t, res.Success)
	assert.Equal(t, "https://resend.com/templates/tpl_9", res.EditURL)

	res = r.CreateTemplate(ctx, outbound.TemplateInput{})
	assert.False(t, res.Success)
	assert.Equal(t, "Resend: name is required", res.Error)
}

func TestMailchimp(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		assert.Equal(t, "client", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"mc-token","token_type":"bearer","expires_in":0}`)
	})
	mux.HandleFunc("GET /oauth2/metadata", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OAuth mc-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"dc":"us21"}`)
	})
	mux.HandleFunc("GET /us21/3.0/ping", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer mc-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"health_status":"Everything's Chimpy!"}`)
	})
	mux.HandleFunc("POST /us21/3.0/templates", func(w http.ResponseWriter, r *http.Request) {
		body := decode(t, r)
		assert.Equal(t, "Welcome", body["name"])
		fmt.Fprint(w, `{"id":42}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.MailchimpConfig{ClientID: "client", ClientSecret: "secret", RedirectURL: "https://app.example.com/esp/mailchimp/callback"}
	newAdapter := func() *mailchimp {
		m := newMailchimp(cfg, srv.Client(), nil, srv.URL)
		m.apiBase = func(dc string) string { return srv.URL + "/" + dc }
		return m
	}

	t.Run("auth url", func(t *testing.T) {
		u, err := url.Parse(newAdapter().GetAuthURL("st-1"))
		require.NoError(t, err)
		assert.Equal(t, "/oauth2/authorize", u.Path)
		assert.Equal(t, "st-1", u.Query().Get("state"))
		assert.Equal(t, "client", u.Query().Get("client_id"))
		assert.Equal(t, "code", u.Query().Get("response_type"))
	})

	t.Run("not connected", func(t *testing.T) {
		m := newAdapter()
		assert.False(t, m.CheckAuth(ctx).Authorized)
		assert.False(t, m.CreateTemplate(ctx, outbound.TemplateInput{Name: "x"}).Success)
	})

	t.Run("callback connects the account", func(t *testing.T) {
		m := newAdapter()
		res := m.HandleCallback(ctx, "good-code")
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "mc-token", res.AccessToken)

		assert.True(t, m.CheckAuth(ctx).Authorized)
		tpl := m.CreateTemplate(ctx, outbound.TemplateInput{Name: "Welcome", HTML: "<p/>"})
		assert.True(t, tpl.Success)
		assert.Equal(t, "42", tpl.ID)
		assert.Equal(t, "https://us21.admin.mailchimp.com/templates/edit?id=42", tpl.EditURL)
	})

	t.Run("bad code", func(t *testing.T) {
		res := newAdapter().HandleCallback(ctx, "stale")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Mailchimp")
	})

	t.Run("missing code", func(t *testing.T) {
		assert.Equal(t, "missing authorization code", newAdapter().HandleCallback(ctx, "").Error)
	})

	t.Run("static token", func(t *testing.T) {
		m := newMailchimp(config.MailchimpConfig{AccessToken: "mc-token", ServerPrefix: "us21"}, srv.Client(), nil, srv.URL)
		m.apiBase = func(dc string) string { return srv.URL + "/" + dc }
		assert.True(t, m.CheckAuth(ctx).Authorized)
		assert.False(t, m.ValidateConfig())
	})
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unavailable", fmt.Errorf("get: %w", httpclient.ErrUpstreamUnavailable), "Resend is temporarily unavailable"},
		{"timeout", context.DeadlineExceeded, "Resend request timed out"},
		{"rate limited", &APIError{ESP: "resend", Status: http.StatusTooManyRequests}, "Resend rate limit exceeded"},
		{"status only", &APIError{ESP: "resend", Status: http.StatusBadGateway}, "Resend returned status 502"},
		{"other", errors.New("dial tcp: refused"), "Resend: dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatError("Resend", tt.err))
		})
	}
}

func TestRegistry(t *testing.T) {
	client := httpclient.WithBreaker(&http.Client{Timeout: time.Second}, httpclient.BreakerSettings{Name: "esp"}, nil)
	reg := NewRegistry(config.ESPConfig{SendGrid: config.ESPKeyConfig{APIKey: "SG.x"}}, client, nil)

	assert.Equal(t, []string{"mailchimp", "resend", "sendgrid"}, reg.Names())

	sg, ok := reg.Get("sendgrid")
	require.True(t, ok)
	assert.True(t, sg.ValidateConfig())

	_, ok = reg.OAuth("sendgrid")
	assert.False(t, ok)
	_, ok = reg.OAuth("mailchimp")
	assert.True(t, ok)

	_, ok = reg.Get("postmark")
	assert.False(t, ok)
}
