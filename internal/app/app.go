// Package app wires the service together and runs it.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "github.com/mailcraft/server/cmd/server/docs" // swagger docs
	billinghttp "github.com/mailcraft/server/internal/adapter/inbound/http/billing"
	esphttp "github.com/mailcraft/server/internal/adapter/inbound/http/esp"
	webhookhttp "github.com/mailcraft/server/internal/adapter/inbound/http/webhook"
	"github.com/mailcraft/server/internal/domain/webhook"
	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
	"github.com/mailcraft/server/internal/shared/database"
	"github.com/mailcraft/server/internal/utils/metrics"
	"github.com/mailcraft/server/internal/utils/middleware"
)

const (
	defaultJanitorInterval = time.Hour
	defaultDedupRetention  = 30 * 24 * time.Hour
	readinessTimeout       = 2 * time.Second
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Webhook *webhookhttp.Handler
	Billing *billinghttp.StateHandler
	ESP     *esphttp.Handler
}

// NewHandlers groups the handlers for the router.
func NewHandlers(hook *webhookhttp.Handler, state *billinghttp.StateHandler, esp *esphttp.Handler) *Handlers {
	return &Handlers{Webhook: hook, Billing: state, ESP: esp}
}

// Probes are the dependencies checked by /ready. Either may be nil.
type Probes struct {
	DB    *gorm.DB
	Redis goredis.UniversalClient
}

// NewRouter creates the Gin router with every route mounted.
func NewRouter(
	cfg *config.Config,
	h *Handlers,
	jwt outbound.JWTPort,
	limiter outbound.RateLimiterPort,
	m *metrics.Metrics,
	reg *prometheus.Registry,
	db *gorm.DB,
	redis goredis.UniversalClient,
	log *zap.Logger,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics(m))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", readiness(Probes{DB: db, Redis: redis}))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	if !cfg.App.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	// Providers post here; no CORS and no auth, the signature is the credential.
	hooks := r.Group("")
	hooks.Use(middleware.BodyLimit(cfg.Webhooks.MaxBodyBytes))
	h.Webhook.RegisterRoutes(hooks)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.CORS(cfg.Server.CORSOrigins))
	h.ESP.RegisterPublicRoutes(v1)

	protected := v1.Group("")
	protected.Use(middleware.RequireAuth(jwt))
	if cfg.RateLimit.Enabled && limiter != nil {
		protected.Use(middleware.RateLimitByUser(limiter, cfg.RateLimit.Limit, cfg.RateLimit.Window, log))
	}
	h.Billing.RegisterRoutes(protected)
	h.ESP.RegisterRoutes(protected)

	return r
}

func readiness(p Probes) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		checks := gin.H{}
		ready := true
		if p.DB != nil {
			checks["database"] = "ok"
			if err := database.Ping(ctx, p.DB); err != nil {
				checks["database"] = err.Error()
				ready = false
			}
		}
		if p.Redis != nil {
			checks["redis"] = "ok"
			if err := p.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				ready = false
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	}
}

// App is the assembled service.
type App struct {
	cfg     *config.Config
	router  *gin.Engine
	janitor outbound.DedupJanitorPort
	storage *Storage
	jwt     outbound.JWTPort
	logger  *zap.Logger
	now     func() time.Time
}

// NewApp creates the application.
func NewApp(
	cfg *config.Config,
	router *gin.Engine,
	gate *webhook.LayeredGate,
	storage *Storage,
	jwt outbound.JWTPort,
	log *zap.Logger,
) *App {
	return &App{
		cfg:     cfg,
		router:  router,
		janitor: gate,
		storage: storage,
		jwt:     jwt,
		logger:  log,
		now:     time.Now,
	}
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Run serves HTTP and runs the dedup janitor until ctx is canceled, then
// shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.storage.Memory != nil && !a.cfg.App.IsProduction() {
		a.seedDevUser()
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Address,
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.runJanitor(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down server")

		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) runJanitor(ctx context.Context) {
	interval := a.cfg.Webhooks.JanitorInterval
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeDedup(ctx)
		}
	}
}

// purgeDedup removes dedup markers older than the retention window.
func (a *App) purgeDedup(ctx context.Context) int64 {
	retention := a.cfg.Webhooks.DedupRetention
	if retention <= 0 {
		retention = defaultDedupRetention
	}
	n, err := a.janitor.Purge(ctx, a.now().Add(-retention))
	if err != nil {
		a.logger.Warn("dedup purge failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		a.logger.Info("purged dedup markers", zap.Int64("count", n))
	}
	return n
}

// seedDevUser gives the memory driver a user to send webhooks for and logs
// a dashboard token for it.
func (a *App) seedDevUser() {
	u := &model.User{
		ID:                 uuid.New(),
		Email:              "dev@mailcraft.local",
		SubscriptionPlan:   model.PlanFree,
		SubscriptionStatus: model.UserStatusFree,
	}
	a.storage.Memory.PutUser(u)

	token, _, err := a.jwt.GenerateAccessToken(u.ID, u.Email)
	if err != nil {
		a.logger.Warn("dev user seeded without token", zap.String("user_id", u.ID.String()), zap.Error(err))
		return
	}
	a.logger.Info("seeded dev user",
		zap.String("user_id", u.ID.String()),
		zap.String("email", u.Email),
		zap.String("token", token),
	)
}
