package webhookhttp

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailcraft/server/internal/domain/webhook"
	"github.com/mailcraft/server/internal/model"
)

// Handler serves the provider webhook endpoints.
type Handler struct {
	domain webhook.WebhookDomain
}

// NewHandler creates a new webhook handler.
func NewHandler(domain webhook.WebhookDomain) *Handler {
	return &Handler{domain: domain}
}

// RegisterRoutes registers webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		for _, provider := range []string{
			model.ProviderStripe,
			model.ProviderPaddle,
			model.ProviderCreem,
			model.ProviderAlipay,
			model.ProviderWechat,
		} {
			webhooks.POST("/"+provider, h.handle(provider))
		}
		// The generic endpoint detects the provider from headers and body.
		webhooks.POST("/notify", h.handle(""))
	}
}

// handle ingests one delivery. Alipay and WeChat get the acknowledgement
// body they expect instead of JSON.
//
//	@Summary	Receive a payment provider webhook
//	@Tags		Webhooks
//	@Accept		json,xml,x-www-form-urlencoded
//	@Produce	json
//	@Success	200	{object}	model.AckResponse
//	@Failure	400	{object}	model.ErrorResponse
//	@Failure	401	{object}	model.ErrorResponse
//	@Failure	404	{object}	model.ErrorResponse
//	@Failure	413	{object}	model.ErrorResponse
//	@Failure	500	{object}	model.ErrorResponse
//	@Router		/webhooks/stripe [post]
//	@Router		/webhooks/paddle [post]
//	@Router		/webhooks/creem [post]
//	@Router		/webhooks/alipay [post]
//	@Router		/webhooks/wechat [post]
//	@Router		/webhooks/notify [post]
func (h *Handler) handle(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{
					Code:    "payload_too_large",
					Message: "Webhook body too large",
				})
				return
			}
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Code:    "invalid_payload",
				Message: "Failed to read request body",
			})
			return
		}

		receipt, err := h.domain.Ingest(c.Request.Context(), webhook.Delivery{
			Provider: provider,
			Raw:      raw,
			Headers:  c.Request.Header,
		})
		if err != nil {
			handleError(c, err)
			return
		}

		if len(receipt.AckBody) > 0 {
			c.Data(http.StatusOK, receipt.AckContentType, receipt.AckBody)
			return
		}
		c.JSON(http.StatusOK, model.AckResponse{Received: true})
	}
}

// handleError maps pipeline errors to HTTP responses. Providers redeliver
// on anything but 2xx.
func handleError(c *gin.Context, err error) {
	var statusCode int
	var errorCode string
	var message string

	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_signature"
		message = "Webhook signature verification failed"

	case errors.Is(err, webhook.ErrMalformedPayload):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_payload"
		message = "Webhook payload could not be parsed"

	case errors.Is(err, webhook.ErrSecretNotConfigured):
		statusCode = http.StatusUnauthorized
		errorCode = "secret_not_configured"
		message = "Webhook secret not configured"

	case errors.Is(err, webhook.ErrUnknownProvider):
		statusCode = http.StatusNotFound
		errorCode = "unknown_provider"
		message = "Unknown payment provider"

	default:
		statusCode = http.StatusInternalServerError
		errorCode = "processing_failed"
		message = "Webhook processing failed"
	}

	_ = c.Error(err)
	c.JSON(statusCode, model.ErrorResponse{
		Code:    errorCode,
		Message: message,
	})
}
