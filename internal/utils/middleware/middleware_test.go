package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/mailcraft/server/internal/utils/metrics"
	"github.com/mailcraft/server/internal/utils/requestctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	t.Run("generates new request ID when not provided", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		w := serve(router, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		headerID := w.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, headerID)
		assert.Equal(t, headerID, w.Body.String())
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, requestctx.RequestID(c.Request.Context()))
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-request-id-123")
		w := serve(router, req)

		assert.Equal(t, "existing-request-id-123", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "existing-request-id-123", w.Body.String())
	})

	t.Run("replaces oversized request ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		w := serve(router, req)

		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  zapcore.Level
	}{
		{"success as info", http.StatusOK, zapcore.InfoLevel},
		{"4xx as warning", http.StatusBadRequest, zapcore.WarnLevel},
		{"5xx as error", http.StatusInternalServerError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			router := gin.New()
			router.Use(RequestID(), Logging(zap.New(core)))
			router.POST("/webhooks/stripe", func(c *gin.Context) { c.Status(tt.status) })

			req := httptest.NewRequest("POST", "/webhooks/stripe?foo=bar", nil)
			req.Header.Set("User-Agent", "Stripe/1.0")
			serve(router, req)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "HTTP Request", entry.Message)
			fields := entry.ContextMap()
			assert.Equal(t, int64(tt.status), fields["status"])
			assert.Equal(t, "/webhooks/stripe", fields["path"])
			assert.Equal(t, "foo=bar", fields["query"])
			assert.Equal(t, "Stripe/1.0", fields["user_agent"])
			assert.NotEmpty(t, fields["request_id"])
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		router := gin.New()
		router.Use(Recovery(zap.New(core)))
		router.GET("/panic", func(c *gin.Context) { panic("test panic") })

		var w *httptest.ResponseRecorder
		require.NotPanics(t, func() {
			w = serve(router, httptest.NewRequest("GET", "/panic", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Panic recovered", logs.All()[0].Message)
		assert.Equal(t, "test panic", logs.All()[0].ContextMap()["error"])
	})

	t.Run("nil logger", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(nil))
		router.GET("/panic", func(c *gin.Context) { panic("test panic") })

		w := serve(router, httptest.NewRequest("GET", "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCORS(t *testing.T) {
	t.Run("allows any origin by default", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"*"}))
		router.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest("GET", "/api", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(router, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("restricts to configured origins", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"https://app.example.com"}))
		router.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest("GET", "/api", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := serve(router, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

type stubValidator struct {
	claims *outbound.JWTClaims
	err    error
}

func (s stubValidator) ValidateAccessToken(string) (*outbound.JWTClaims, error) {
	return s.claims, s.err
}

func TestRequireAuth(t *testing.T) {
	userID := uuid.New()
	handler := func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c).String()+"|"+GetEmail(c))
	}

	t.Run("missing header", func(t *testing.T) {
		router := gin.New()
		router.GET("/me", RequireAuth(stubValidator{}), handler)

		w := serve(router, httptest.NewRequest("GET", "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("invalid token", func(t *testing.T) {
		router := gin.New()
		router.GET("/me", RequireAuth(stubValidator{err: errors.New("expired")}), handler)

		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set(AuthorizationHeader, "Bearer bad")
		w := serve(router, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("valid token", func(t *testing.T) {
		v := stubValidator{claims: &outbound.JWTClaims{UserID: userID, Email: "owner@example.com"}}
		router := gin.New()
		router.GET("/me", RequireAuth(v), handler)

		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set(AuthorizationHeader, "Bearer good")
		w := serve(router, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, userID.String()+"|owner@example.com", w.Body.String())
	})

	t.Run("GetUserID without auth", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Equal(t, uuid.Nil, GetUserID(c))
	})
}

func TestBodyLimit(t *testing.T) {
	newRouter := func(limit int64) *gin.Engine {
		router := gin.New()
		router.Use(BodyLimit(limit))
		router.POST("/hook", func(c *gin.Context) {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.String(http.StatusOK, "%d", len(body))
		})
		return router
	}

	t.Run("within limit", func(t *testing.T) {
		w := serve(newRouter(16), httptest.NewRequest("POST", "/hook", strings.NewReader("hello")))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "5", w.Body.String())
	})

	t.Run("declared length over limit", func(t *testing.T) {
		w := serve(newRouter(4), httptest.NewRequest("POST", "/hook", strings.NewReader("hello")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/hook", io.NopCloser(strings.NewReader("hello")))
		req.ContentLength = -1
		w := serve(newRouter(4), req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		w := serve(newRouter(0), httptest.NewRequest("POST", "/hook", strings.NewReader("hello")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMetrics(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	router := gin.New()
	router.Use(Metrics(m))
	router.POST("/webhooks/:provider", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, httptest.NewRequest("POST", "/webhooks/stripe", nil))
	serve(router, httptest.NewRequest("POST", "/webhooks/paddle", nil))
	serve(router, httptest.NewRequest("GET", "/nowhere", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/webhooks/:provider", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")))
	assert.Zero(t, testutil.ToFloat64(m.HTTPRequestsInFlight))
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *mockLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Int(0), args.Error(1)
}

func TestRateLimitByUser(t *testing.T) {
	userID := uuid.New()
	newRouter := func(limiter outbound.RateLimiterPort) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) { c.Set(UserIDKey, userID) })
		router.Use(RateLimitByUser(limiter, 2, time.Minute, zap.NewNop()))
		router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	t.Run("allowed", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("Allow", mock.Anything, "user:"+userID.String(), 2, time.Minute).Return(true, nil)
		limiter.On("GetRemaining", mock.Anything, "user:"+userID.String(), 2, time.Minute).Return(1, nil)

		w := serve(newRouter(limiter), httptest.NewRequest("GET", "/me", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1", w.Header().Get(RateLimitRemaining))
		limiter.AssertExpectations(t)
	})

	t.Run("limited", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("Allow", mock.Anything, mock.Anything, 2, time.Minute).Return(false, nil)
		limiter.On("GetRemaining", mock.Anything, mock.Anything, 2, time.Minute).Return(0, nil)

		w := serve(newRouter(limiter), httptest.NewRequest("GET", "/me", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get(RetryAfter))
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		limiter := new(mockLimiter)
		limiter.On("Allow", mock.Anything, mock.Anything, 2, time.Minute).Return(false, errors.New("redis down"))

		w := serve(newRouter(limiter), httptest.NewRequest("GET", "/me", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("nil limiter", func(t *testing.T) {
		w := serve(newRouter(nil), httptest.NewRequest("GET", "/me", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
