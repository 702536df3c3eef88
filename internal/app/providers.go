package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	// Domains
	"github.com/mailcraft/server/internal/domain/billing"
	espdomain "github.com/mailcraft/server/internal/domain/esp"
	"github.com/mailcraft/server/internal/domain/webhook"

	// Inbound adapters
	billinghttp "github.com/mailcraft/server/internal/adapter/inbound/http/billing"
	esphttp "github.com/mailcraft/server/internal/adapter/inbound/http/esp"
	webhookhttp "github.com/mailcraft/server/internal/adapter/inbound/http/webhook"

	// Ports
	"github.com/mailcraft/server/internal/port/outbound"

	// Outbound adapters
	"github.com/mailcraft/server/internal/adapter/outbound/esp"
	"github.com/mailcraft/server/internal/adapter/outbound/memory"
	"github.com/mailcraft/server/internal/adapter/outbound/oauth"
	"github.com/mailcraft/server/internal/adapter/outbound/postgres"
	"github.com/mailcraft/server/internal/adapter/outbound/provider"
	redisadapter "github.com/mailcraft/server/internal/adapter/outbound/redis"
	s3adapter "github.com/mailcraft/server/internal/adapter/outbound/s3"

	// Infrastructure
	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/infra/events"
	"github.com/mailcraft/server/internal/infra/httpclient"
	"github.com/mailcraft/server/internal/shared/cache"
	"github.com/mailcraft/server/internal/shared/database"

	// Utils
	"github.com/mailcraft/server/internal/utils/logger"
	"github.com/mailcraft/server/internal/utils/metrics"
)

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideZapLogger,
	ProvidePromRegistry,
	ProvideMetrics,
	ProvideDatabase,
	ProvideRedisClient,
	ProvideHTTPClient,
	ProvideRateLimiter,
	ProvideStorage,
)

// ProvideZapLogger creates the process logger.
func ProvideZapLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, nil, err
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Environment))
	return log, func() { _ = log.Sync() }, nil
}

// ProvidePromRegistry creates the Prometheus registry served on /metrics.
func ProvidePromRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a metrics instance.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New("mailcraft", reg)
}

// ProvideDatabase opens Postgres and applies migrations when enabled.
// The memory driver gets a nil *gorm.DB.
func ProvideDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	if cfg.Storage.Driver == "memory" {
		return nil, func() {}, nil
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(&cfg.Database, log); err != nil {
			return nil, nil, err
		}
	}
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	return db, func() {
		if err := database.Close(db); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}, nil
}

// ProvideRedisClient creates a Redis client. Redis is optional: without it
// the durable dedup gate decides alone and rate limiting is off.
func ProvideRedisClient(cfg *config.Config, log *zap.Logger) (goredis.UniversalClient, func()) {
	if cfg.Redis.Address == "" {
		return nil, func() {}
	}
	client, err := cache.NewRedisClient(context.Background(), &cfg.Redis)
	if err != nil {
		log.Warn("Redis connection failed, continuing without cache", zap.Error(err))
		return nil, func() {}
	}
	return client, func() { _ = cache.Close(client) }
}

// ProvideHTTPClient creates the shared outbound client guarded by a circuit breaker.
func ProvideHTTPClient(cfg *config.Config, log *zap.Logger) *http.Client {
	return httpclient.WithBreaker(httpclient.New(cfg.HTTPClient), httpclient.BreakerSettings{
		Name:             "esp",
		FailureThreshold: cfg.ESP.Breaker.FailureThreshold,
		Timeout:          cfg.ESP.Breaker.Timeout,
	}, log)
}

// ProvideRateLimiter creates a rate limiter, or nil without Redis.
func ProvideRateLimiter(redis goredis.UniversalClient) outbound.RateLimiterPort {
	if redis == nil {
		return nil
	}
	return redisadapter.NewRateLimiter(redis)
}

// Storage bundles the billing gateway with the durable dedup gate of the
// same driver.
type Storage struct {
	Gateway outbound.BillingGatewayPort
	Dedup   outbound.DedupGatePort

	// Memory is set for the memory driver.
	Memory *memory.Store
}

// ProvideStorage selects the persistence driver.
func ProvideStorage(cfg *config.Config, db *gorm.DB) *Storage {
	if cfg.Storage.Driver == "memory" {
		store := memory.NewStore()
		return &Storage{
			Gateway: store,
			Dedup:   memory.NewDedupGate(cfg.Webhooks.ClaimLease),
			Memory:  store,
		}
	}
	return &Storage{
		Gateway: postgres.NewBillingGateway(db),
		Dedup:   postgres.NewDedupGate(db, cfg.Webhooks.ClaimLease),
	}
}

// ===== Domain Providers =====

// DomainSet provides domain services.
var DomainSet = wire.NewSet(
	ProvideEventBus,
	wire.Bind(new(outbound.EventPublisherPort), new(*events.Bus)),
	ProvideBillingDomain,
	ProvideProviderRegistry,
	wire.Bind(new(outbound.ProviderRegistryPort), new(*provider.Registry)),
	ProvideDedupGate,
	ProvideArchive,
	ProvideWebhookDomain,
	ProvideESPRegistry,
	wire.Bind(new(espdomain.Adapters), new(*esp.Registry)),
	ProvideOAuthStateStore,
	espdomain.NewESPDomain,
	ProvideJWTManager,
)

// ProvideEventBus creates the in-process billing event bus.
func ProvideEventBus(log *zap.Logger) *events.Bus {
	bus := events.NewBus(log)
	bus.Register(events.NewAuditHandler(log))
	return bus
}

// ProvideBillingDomain creates the billing domain.
func ProvideBillingDomain(storage *Storage, publisher outbound.EventPublisherPort, log *zap.Logger) billing.BillingDomain {
	return billing.NewBillingDomain(storage.Gateway, publisher, log)
}

// ProvideProviderRegistry registers every payment provider adapter.
func ProvideProviderRegistry(cfg *config.Config) *provider.Registry {
	plans := provider.NewPlanResolver(cfg.Plans)
	return provider.NewRegistry(
		provider.NewStripe(provider.StripeConfig{
			WebhookSecret:    cfg.Stripe.WebhookSecret,
			Tolerance:        cfg.Stripe.Tolerance,
			SkipVerification: cfg.Stripe.SkipVerification,
		}, plans),
		provider.NewPaddle(provider.PaddleConfig{
			WebhookSecret:    cfg.Paddle.WebhookSecret,
			Tolerance:        cfg.Paddle.Tolerance,
			SkipVerification: cfg.Paddle.SkipVerification,
		}, plans),
		provider.NewCreem(provider.CreemConfig{
			WebhookSecret:    cfg.Creem.WebhookSecret,
			SkipVerification: cfg.Creem.SkipVerification,
		}, plans),
		provider.NewAlipay(provider.AlipayConfig{
			AppID:            cfg.Alipay.AppID,
			AlipayPublicKey:  cfg.Alipay.AlipayPublicKey,
			SkipVerification: cfg.Alipay.SkipVerification,
		}, plans),
		provider.NewWechat(provider.WechatConfig{
			MchID:            cfg.Wechat.MchID,
			APIKey:           cfg.Wechat.APIKey,
			SkipVerification: cfg.Wechat.SkipVerification,
		}, plans),
	)
}

// ProvideDedupGate layers the Redis gate, when available, over the durable one.
func ProvideDedupGate(cfg *config.Config, storage *Storage, redis goredis.UniversalClient, m *metrics.Metrics, log *zap.Logger) *webhook.LayeredGate {
	var fast outbound.DedupGatePort
	if redis != nil {
		fast = redisadapter.NewDedupGate(redis, cfg.Webhooks.ClaimLease, cfg.Webhooks.DedupRetention)
	}
	return webhook.NewLayeredGate(fast, storage.Dedup, m, log)
}

// ProvideArchive creates the raw payload archive, or nil when no bucket is configured.
func ProvideArchive(cfg *config.Config) (outbound.PayloadArchivePort, error) {
	if cfg.Archive.Bucket == "" {
		return nil, nil
	}
	client, err := s3adapter.NewClient(context.Background(), cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	return s3adapter.NewPayloadArchive(client, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
}

// ProvideWebhookDomain creates the webhook ingestion pipeline.
func ProvideWebhookDomain(
	cfg *config.Config,
	registry outbound.ProviderRegistryPort,
	gate *webhook.LayeredGate,
	billingDomain billing.BillingDomain,
	archive outbound.PayloadArchivePort,
	m *metrics.Metrics,
	log *zap.Logger,
) webhook.WebhookDomain {
	return webhook.NewWebhookDomain(
		registry,
		gate,
		billingDomain,
		archive,
		m,
		webhook.Config{ProcessingTimeout: cfg.Webhooks.ProcessingTimeout},
		log,
	)
}

// ProvideESPRegistry builds the ESP adapters on the shared client.
func ProvideESPRegistry(cfg *config.Config, client *http.Client, m *metrics.Metrics) *esp.Registry {
	return esp.NewRegistry(cfg.ESP, client, m)
}

// ProvideOAuthStateStore keeps ESP OAuth states in Redis, or in memory without it.
func ProvideOAuthStateStore(redis goredis.UniversalClient) outbound.ESPStateStorePort {
	if redis == nil {
		return memory.NewOAuthStateStore()
	}
	return redisadapter.NewOAuthStateStore(redis)
}

// ProvideJWTManager creates the dashboard token manager.
func ProvideJWTManager(cfg *config.Config) outbound.JWTPort {
	return oauth.NewJWTManager(oauth.JWTConfig{
		Secret:            cfg.Auth.JWTSecret,
		Issuer:            cfg.App.Name,
		AccessTokenExpiry: cfg.Auth.AccessTokenExpiry,
	})
}

// ===== HTTP Providers =====

// HTTPSet provides HTTP handlers and the router.
var HTTPSet = wire.NewSet(
	webhookhttp.NewHandler,
	billinghttp.NewStateHandler,
	esphttp.NewHandler,
	NewHandlers,
	NewRouter,
)

// AppSet is the full provider set.
var AppSet = wire.NewSet(
	InfraSet,
	DomainSet,
	HTTPSet,
	NewApp,
)
