package billinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/domain/billing"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/utils/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBillingDomain struct {
	mock.Mock
}

func (m *mockBillingDomain) Reconcile(ctx context.Context, ev *model.NormalizedEvent) billing.Result {
	return m.Called(ctx, ev).Get(0).(billing.Result)
}

func (m *mockBillingDomain) GetBillingState(ctx context.Context, userID uuid.UUID) (*model.BillingStateResponse, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*model.BillingStateResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func setupRouter(domain billing.BillingDomain, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	NewStateHandler(domain).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestStateHandler_GetMine(t *testing.T) {
	userID := uuid.New()

	t.Run("returns state", func(t *testing.T) {
		domain := &mockBillingDomain{}
		domain.On("GetBillingState", mock.Anything, userID).Return(&model.BillingStateResponse{
			UserID:         userID,
			Plan:           model.PlanPro,
			Status:         model.UserStatusActive,
			HasAccess:      true,
			RecentPayments: []*model.Payment{},
		}, nil)

		w := httptest.NewRecorder()
		setupRouter(domain, userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/me", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var got model.BillingStateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, model.PlanPro, got.Plan)
		assert.True(t, got.HasAccess)
	})

	t.Run("unknown user", func(t *testing.T) {
		domain := &mockBillingDomain{}
		domain.On("GetBillingState", mock.Anything, userID).Return(nil, billing.ErrUserNotFound)

		w := httptest.NewRecorder()
		setupRouter(domain, userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/me", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "user_not_found")
	})

	t.Run("storage failure", func(t *testing.T) {
		domain := &mockBillingDomain{}
		domain.On("GetBillingState", mock.Anything, userID).Return(nil, errors.New("db down"))

		w := httptest.NewRecorder()
		setupRouter(domain, userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/me", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db down")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		domain := &mockBillingDomain{}
		w := httptest.NewRecorder()
		setupRouter(domain, uuid.Nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/billing/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		domain.AssertNotCalled(t, "GetBillingState", mock.Anything, mock.Anything)
	})
}
