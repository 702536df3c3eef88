package esphttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/domain/esp"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/mailcraft/server/internal/utils/middleware"
)

// Handler serves the ESP capability endpoints.
type Handler struct {
	domain esp.ESPDomain
}

// NewHandler creates a new ESP handler.
func NewHandler(domain esp.ESPDomain) *Handler {
	return &Handler{domain: domain}
}

// RegisterRoutes registers the authenticated ESP routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/esp")
	{
		g.GET("", h.List)
		g.GET("/:name/auth", h.CheckAuth)
		g.POST("/:name/templates", h.CreateTemplate)
		g.GET("/:name/connect", h.Connect)
	}
}

// RegisterPublicRoutes registers the OAuth redirect target.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/esp/:name/callback", h.Callback)
}

// List handles GET /esp.
//
//	@Summary	List email service providers
//	@Tags		ESP
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	model.ESPListResponse
//	@Router		/api/v1/esp [get]
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, model.ESPListResponse{Providers: h.domain.List(c.Request.Context())})
}

// CheckAuth handles GET /esp/:name/auth.
//
//	@Summary	Check ESP credentials
//	@Tags		ESP
//	@Security	BearerAuth
//	@Produce	json
//	@Param		name	path		string	true	"ESP name"
//	@Success	200		{object}	outbound.AuthStatus
//	@Failure	404		{object}	model.ErrorResponse
//	@Router		/api/v1/esp/{name}/auth [get]
func (h *Handler) CheckAuth(c *gin.Context) {
	status, err := h.domain.CheckAuth(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CreateTemplate handles POST /esp/:name/templates.
//
//	@Summary	Create an email template on an ESP
//	@Tags		ESP
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		name	path		string						true	"ESP name"
//	@Param		request	body		model.CreateTemplateRequest	true	"Template"
//	@Success	201		{object}	outbound.TemplateResult
//	@Failure	400		{object}	model.ErrorResponse
//	@Failure	502		{object}	outbound.TemplateResult
//	@Router		/api/v1/esp/{name}/templates [post]
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req model.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    "invalid_request",
			Message: err.Error(),
		})
		return
	}

	res, err := h.domain.CreateTemplate(c.Request.Context(), c.Param("name"), outbound.TemplateInput{
		Name:    req.Name,
		HTML:    req.HTML,
		Subject: req.Subject,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

// Connect handles GET /esp/:name/connect.
//
//	@Summary	Start an ESP OAuth connection
//	@Tags		ESP
//	@Security	BearerAuth
//	@Produce	json
//	@Param		name	path		string	true	"ESP name"
//	@Success	200		{object}	model.ConnectResponse
//	@Failure	400		{object}	model.ErrorResponse
//	@Router		/api/v1/esp/{name}/connect [get]
func (h *Handler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Code:    "unauthorized",
			Message: "User not authenticated",
		})
		return
	}

	url, err := h.domain.AuthURL(c.Request.Context(), userID, c.Param("name"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.ConnectResponse{URL: url})
}

// Callback handles GET /esp/:name/callback.
//
//	@Summary	Finish an ESP OAuth connection
//	@Tags		ESP
//	@Produce	json
//	@Param		name	path		string	true	"ESP name"
//	@Param		state	query		string	true	"State from the connect URL"
//	@Param		code	query		string	true	"Authorization code"
//	@Success	200		{object}	outbound.CallbackResult
//	@Failure	400		{object}	model.ErrorResponse
//	@Failure	502		{object}	outbound.CallbackResult
//	@Router		/api/v1/esp/{name}/callback [get]
func (h *Handler) Callback(c *gin.Context) {
	if errMsg := c.Query("error"); errMsg != "" {
		c.JSON(http.StatusBadRequest, outbound.CallbackResult{Error: errMsg})
		return
	}

	res, err := h.domain.Callback(c.Request.Context(), c.Param("name"), c.Query("state"), c.Query("code"))
	if err != nil {
		handleError(c, err)
		return
	}
	// The token stays server side.
	res.AccessToken = ""
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func handleError(c *gin.Context, err error) {
	var statusCode int
	var errorCode string
	var message string

	switch {
	case errors.Is(err, esp.ErrUnknownESP):
		statusCode = http.StatusNotFound
		errorCode = "esp_not_found"
		message = "Email service provider not found"

	case errors.Is(err, esp.ErrNotOAuth):
		statusCode = http.StatusBadRequest
		errorCode = "esp_not_oauth"
		message = "Email service provider does not use OAuth"

	case errors.Is(err, esp.ErrInvalidState):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_state"
		message = "Invalid or expired OAuth state"

	default:
		statusCode = http.StatusInternalServerError
		errorCode = "internal_error"
		message = "Internal server error"
	}

	_ = c.Error(err)
	c.JSON(statusCode, model.ErrorResponse{
		Code:    errorCode,
		Message: message,
	})
}
