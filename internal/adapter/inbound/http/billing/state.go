package billinghttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailcraft/server/internal/domain/billing"
)

// StateHandler serves the dashboard view of billing state.
type StateHandler struct {
	domain billing.BillingDomain
}

// NewStateHandler creates a new billing state handler.
func NewStateHandler(domain billing.BillingDomain) *StateHandler {
	return &StateHandler{domain: domain}
}

// RegisterRoutes registers billing routes on an authenticated group.
func (h *StateHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/me", h.GetMine)
}

// GetMine handles GET /billing/me.
//
//	@Summary	Get the caller's plan, usage and recent payments
//	@Tags		Billing
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	model.BillingStateResponse
//	@Failure	401	{object}	model.ErrorResponse
//	@Failure	404	{object}	model.ErrorResponse
//	@Router		/api/v1/billing/me [get]
func (h *StateHandler) GetMine(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	state, err := h.domain.GetBillingState(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
