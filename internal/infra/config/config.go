package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig           `mapstructure:"app"`
	Server     ServerConfig        `mapstructure:"server"`
	Database   DatabaseConfig      `mapstructure:"database"`
	Redis      RedisConfig         `mapstructure:"redis"`
	Log        LogConfig           `mapstructure:"log"`
	Storage    StorageConfig       `mapstructure:"storage"`
	Webhooks   WebhooksConfig      `mapstructure:"webhooks"`
	Stripe     StripeConfig        `mapstructure:"stripe"`
	Paddle     PaddleConfig        `mapstructure:"paddle"`
	Creem      CreemConfig         `mapstructure:"creem"`
	Alipay     AlipayConfig        `mapstructure:"alipay"`
	Wechat     WechatConfig        `mapstructure:"wechat"`
	Plans      map[string][]string `mapstructure:"plans"`
	Auth       AuthConfig          `mapstructure:"auth"`
	RateLimit  RateLimitConfig     `mapstructure:"rate_limit"`
	ESP        ESPConfig           `mapstructure:"esp"`
	Archive    ArchiveConfig       `mapstructure:"archive"`
	HTTPClient HTTPClientConfig    `mapstructure:"http_client"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
}

// IsProduction reports whether the process runs in production.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode,
	)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// URL returns the connection string in URL form, as golang-migrate expects it.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig holds Redis configuration. An empty address disables Redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

// WebhooksConfig holds webhook pipeline settings.
type WebhooksConfig struct {
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	ClaimLease        time.Duration `mapstructure:"claim_lease"`
	DedupRetention    time.Duration `mapstructure:"dedup_retention"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey        string        `mapstructure:"secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	Tolerance        time.Duration `mapstructure:"tolerance"`
	SkipVerification bool          `mapstructure:"skip_verification"`
}

// PaddleConfig holds Paddle Billing configuration.
type PaddleConfig struct {
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	Tolerance        time.Duration `mapstructure:"tolerance"`
	SkipVerification bool          `mapstructure:"skip_verification"`
}

// CreemConfig holds Creem configuration.
type CreemConfig struct {
	WebhookSecret    string `mapstructure:"webhook_secret"`
	SkipVerification bool   `mapstructure:"skip_verification"`
}

// AlipayConfig holds Alipay configuration.
type AlipayConfig struct {
	AppID            string `mapstructure:"app_id"`
	AlipayPublicKey  string `mapstructure:"alipay_public_key"` // base64 public key
	SkipVerification bool   `mapstructure:"skip_verification"`
}

// WechatConfig holds WeChat Pay (API v2) configuration.
type WechatConfig struct {
	MchID            string `mapstructure:"mch_id"`
	APIKey           string `mapstructure:"api_key"`
	SkipVerification bool   `mapstructure:"skip_verification"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// RateLimitConfig holds rate limiting for the dashboard API.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// ESPConfig holds email service provider credentials.
type ESPConfig struct {
	SendGrid  ESPKeyConfig     `mapstructure:"sendgrid"`
	Resend    ESPKeyConfig     `mapstructure:"resend"`
	Mailchimp MailchimpConfig  `mapstructure:"mailchimp"`
	Breaker   ESPBreakerConfig `mapstructure:"breaker"`
}

// ESPKeyConfig holds an API-key based ESP.
type ESPKeyConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// MailchimpConfig holds Mailchimp OAuth2 credentials.
type MailchimpConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	AccessToken  string `mapstructure:"access_token"`
	ServerPrefix string `mapstructure:"server_prefix"`
}

// ESPBreakerConfig holds circuit breaker settings for outbound ESP calls.
type ESPBreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig holds raw payload archive settings. An empty bucket disables it.
type ArchiveConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// HTTPClientConfig holds HTTP client configuration for outbound calls.
type HTTPClientConfig struct {
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
}

// Load loads configuration from .env, the config file and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/mailcraft")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MAILCRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applySecretEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applySecretEnv reads secrets whose env names predate the nested keys.
func applySecretEnv(cfg *Config) {
	overrides := map[string]*string{
		"MAILCRAFT_JWT_SECRET":            &cfg.Auth.JWTSecret,
		"MAILCRAFT_DB_PASSWORD":           &cfg.Database.Password,
		"MAILCRAFT_REDIS_PASSWORD":        &cfg.Redis.Password,
		"MAILCRAFT_STRIPE_WEBHOOK_SECRET": &cfg.Stripe.WebhookSecret,
		"MAILCRAFT_PADDLE_WEBHOOK_SECRET": &cfg.Paddle.WebhookSecret,
		"MAILCRAFT_CREEM_WEBHOOK_SECRET":  &cfg.Creem.WebhookSecret,
		"MAILCRAFT_ALIPAY_PUBLIC_KEY":     &cfg.Alipay.AlipayPublicKey,
		"MAILCRAFT_WECHAT_API_KEY":        &cfg.Wechat.APIKey,
		"MAILCRAFT_SENDGRID_API_KEY":      &cfg.ESP.SendGrid.APIKey,
		"MAILCRAFT_RESEND_API_KEY":        &cfg.ESP.Resend.APIKey,
		"MAILCRAFT_MAILCHIMP_SECRET":      &cfg.ESP.Mailchimp.ClientSecret,
	}
	for env, dst := range overrides {
		if val := os.Getenv(env); val != "" {
			*dst = val
		}
	}
}

// Validate rejects configurations that must never run.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q: want postgres or memory", c.Storage.Driver)
	}
	if c.App.IsProduction() {
		skipped := map[string]bool{
			"stripe": c.Stripe.SkipVerification,
			"paddle": c.Paddle.SkipVerification,
			"creem":  c.Creem.SkipVerification,
			"alipay": c.Alipay.SkipVerification,
			"wechat": c.Wechat.SkipVerification,
		}
		for provider, skip := range skipped {
			if skip {
				return fmt.Errorf("%s.skip_verification is not allowed in production", provider)
			}
		}
		if c.Storage.Driver == "memory" {
			return errors.New("storage.driver memory is not allowed in production")
		}
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required in production")
		}
	}
	if c.Webhooks.ProcessingTimeout <= 0 {
		return errors.New("webhooks.processing_timeout must be positive")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mailcraft")
	v.SetDefault("app.environment", "development")

	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "mailcraft")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", "postgres")

	// Webhook defaults
	v.SetDefault("webhooks.processing_timeout", 10*time.Second)
	v.SetDefault("webhooks.max_body_bytes", 1<<20)
	v.SetDefault("webhooks.claim_lease", 2*time.Minute)
	v.SetDefault("webhooks.dedup_retention", 30*24*time.Hour)
	v.SetDefault("webhooks.janitor_interval", time.Hour)

	v.SetDefault("stripe.tolerance", 5*time.Minute)
	v.SetDefault("paddle.tolerance", 5*time.Minute)
	// Registered so AutomaticEnv reaches them on Unmarshal.
	for _, provider := range []string{"stripe", "paddle", "creem", "alipay", "wechat"} {
		v.SetDefault(provider+".skip_verification", false)
	}

	v.SetDefault("auth.access_token_expiry", 15*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 60)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("esp.sendgrid.base_url", "https://api.sendgrid.com")
	v.SetDefault("esp.resend.base_url", "https://api.resend.com")
	v.SetDefault("esp.breaker.failure_threshold", 5)
	v.SetDefault("esp.breaker.timeout", 30*time.Second)

	v.SetDefault("archive.prefix", "webhooks")

	// HTTP client defaults
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 20)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.dial_timeout", 10*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 30*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)
}
