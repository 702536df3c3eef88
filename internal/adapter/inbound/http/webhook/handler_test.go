package webhookhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mailcraft/server/internal/domain/webhook"
	"github.com/mailcraft/server/internal/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWebhookDomain struct {
	mock.Mock
}

func (m *mockWebhookDomain) Ingest(ctx context.Context, d webhook.Delivery) (*webhook.Receipt, error) {
	args := m.Called(ctx, d)
	if r := args.Get(0); r != nil {
		return r.(*webhook.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func setupRouter(domain webhook.WebhookDomain, bodyLimit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if bodyLimit > 0 {
		r.Use(middleware.BodyLimit(bodyLimit))
	}
	NewHandler(domain).RegisterRoutes(r.Group(""))
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Success(t *testing.T) {
	t.Run("json acknowledgement", func(t *testing.T) {
		domain := &mockWebhookDomain{}
		domain.On("Ingest", mock.Anything, mock.MatchedBy(func(d webhook.Delivery) bool {
			return d.Provider == "stripe" && string(d.Raw) == `{"id":"evt_1"}` &&
				d.Headers.Get("Stripe-Signature") == "t=1,v1=abc"
		})).Return(&webhook.Receipt{Provider: "stripe", Outcome: "applied"}, nil)

		w := post(setupRouter(domain, 0), "/webhooks/stripe", `{"id":"evt_1"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
		domain.AssertExpectations(t)
	})

	t.Run("provider specific acknowledgement", func(t *testing.T) {
		domain := &mockWebhookDomain{}
		domain.On("Ingest", mock.Anything, mock.Anything).Return(&webhook.Receipt{
			Provider:       "alipay",
			Outcome:        "duplicate",
			AckContentType: "text/plain; charset=utf-8",
			AckBody:        []byte("success"),
		}, nil)

		w := post(setupRouter(domain, 0), "/webhooks/alipay", "notify_id=1")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", w.Body.String())
		assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	})

	t.Run("generic endpoint detects provider", func(t *testing.T) {
		domain := &mockWebhookDomain{}
		domain.On("Ingest", mock.Anything, mock.MatchedBy(func(d webhook.Delivery) bool {
			return d.Provider == ""
		})).Return(&webhook.Receipt{Provider: "paddle", Outcome: "unsupported"}, nil)

		w := post(setupRouter(domain, 0), "/webhooks/notify", `{}`)
		assert.Equal(t, http.StatusOK, w.Code)
		domain.AssertExpectations(t)
	})
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad signature", webhook.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{"malformed", fmt.Errorf("%w: missing id", webhook.ErrMalformedPayload), http.StatusBadRequest, "invalid_payload"},
		{"missing secret", webhook.ErrSecretNotConfigured, http.StatusUnauthorized, "secret_not_configured"},
		{"unknown provider", webhook.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},
		{"processing failed", fmt.Errorf("%w: db down", webhook.ErrProcessingFailed), http.StatusInternalServerError, "processing_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain := &mockWebhookDomain{}
			domain.On("Ingest", mock.Anything, mock.Anything).Return(&webhook.Receipt{Provider: "stripe"}, tt.err)

			w := post(setupRouter(domain, 0), "/webhooks/stripe", `{}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.wantCode+`"`)
		})
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	domain := &mockWebhookDomain{}
	r := setupRouter(domain, 8)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = -1
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	domain.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}
