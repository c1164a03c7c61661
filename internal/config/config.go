// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the daemon settings:
// server timeouts, logging, storage, rate limiting, observability and the
// dose engine's timers, horizons and delivery channel.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/tbourn/go-dose-engine/internal/quiethours"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"` // CORS_ALLOWED_ORIGINS
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `envconfig:"ENABLED" default:"false"` // HSTS_ENABLED
	HSTSMaxAge time.Duration `envconfig:"MAX_AGE" default:"4320h"` // HSTS_MAX_AGE
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `envconfig:"ENABLED" default:"false"`                         // OTEL_ENABLED
	Endpoint    string  `envconfig:"EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"` // e.g. "otel:4317"
	Insecure    bool    `envconfig:"EXPORTER_OTLP_INSECURE" default:"true"`           // true if no TLS
	ServiceName string  `envconfig:"SERVICE_NAME" default:"dosed"`                    // OTEL_SERVICE_NAME
	SampleRatio float64 `envconfig:"TRACES_SAMPLER_ARG" default:"1.0"`                // in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"20s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	GinMode           string        `envconfig:"GIN_MODE" default:"release"` // debug|release|test

	// Logging / Docs
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error|fatal|panic
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	SwaggerEnabled bool   `envconfig:"SWAGGER_ENABLED" default:"false"`
	APIBasePath    string `envconfig:"API_BASE_PATH" default:"/api/v1"`

	// Storage
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"` // sqlite|postgres
	DBPath   string `envconfig:"DB_PATH" default:"dosed.db"`
	DBDSN    string `envconfig:"DB_DSN"`
	SeedFile string `envconfig:"SEED_FILE"` // optional JSON items/schedules/stock to load at startup

	// Rate limiting
	RateRPS   float64 `envconfig:"RATE_RPS" default:"5"`
	RateBurst int     `envconfig:"RATE_BURST" default:"10"`

	// Web protection
	CORS     CORSConfig     `envconfig:"CORS"`
	Security SecurityConfig `envconfig:"HSTS"`

	// Idempotency: how long an Idempotency-Key or dose-action receipt is valid.
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// Observability
	OTEL OTELConfig `envconfig:"OTEL"`

	// Engine
	UserID            string        `envconfig:"USER_ID" default:"local"`
	Timezone          string        `envconfig:"TIMEZONE" default:"Local"`
	DeliveryChannel   string        `envconfig:"DELIVERY_CHANNEL" default:"native"` // native|web|push|none
	NativeHorizon     time.Duration `envconfig:"NATIVE_HORIZON" default:"48h"`
	WebHorizon        time.Duration `envconfig:"WEB_HORIZON" default:"24h"`
	DuplicateWindow   time.Duration `envconfig:"DUPLICATE_WINDOW" default:"4h"`
	MissedGrace       time.Duration `envconfig:"MISSED_GRACE" default:"60m"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
	OfflineRetention  time.Duration `envconfig:"OFFLINE_RETENTION" default:"168h"`
	RejectedRetry     time.Duration `envconfig:"OFFLINE_REJECTED_RETRY" default:"6h"` // 0 retires refused actions at once
	OfflineAttempts   int           `envconfig:"OFFLINE_MAX_ATTEMPTS" default:"5"`    // refused actions; 0 = no cap
	NotifyPermission  string        `envconfig:"NOTIFY_PERMISSION" default:"granted"` // granted|denied
	PermissionTTL     time.Duration `envconfig:"PERMISSION_SESSION_TTL" default:"12h"`

	// Engine timers
	RescheduleInterval   time.Duration `envconfig:"RESCHEDULE_INTERVAL" default:"30m"`
	SyncInterval         time.Duration `envconfig:"SYNC_INTERVAL" default:"2m"`
	MissedSweepInterval  time.Duration `envconfig:"MISSED_SWEEP_INTERVAL" default:"5m"`
	NativePollInterval   time.Duration `envconfig:"NATIVE_POLL_INTERVAL" default:"15s"`
	ConnectivityInterval time.Duration `envconfig:"CONNECTIVITY_INTERVAL" default:"1m"`
	PurgeInterval        time.Duration `envconfig:"PURGE_INTERVAL" default:"6h"`

	// Remote side
	ServeActions    bool          `envconfig:"SERVE_ACTIONS" default:"true"` // expose POST /dose-actions
	RemoteBaseURL   string        `envconfig:"REMOTE_BASE_URL"`              // empty: replay in-process
	RemoteBasePath  string        `envconfig:"REMOTE_BASE_PATH"`             // empty: API_BASE_PATH
	RemoteTimeout   time.Duration `envconfig:"REMOTE_TIMEOUT" default:"10s"`
	PushRegistryURL string        `envconfig:"PUSH_REGISTRY_URL"`
	RedisURL        string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisChannel    string        `envconfig:"REDIS_CHANNEL" default:"dosed:notifications"`

	// Push registration retries: per attempt, then a resend loop for what
	// still failed.
	PushMaxRetries     uint64        `envconfig:"PUSH_MAX_RETRIES" default:"5"`
	PushRetryInterval  time.Duration `envconfig:"PUSH_RETRY_INTERVAL" default:"2s"`
	PushResendInterval time.Duration `envconfig:"PUSH_RESEND_INTERVAL" default:"10m"`

	// Quiet-hours defaults for users without stored settings
	QuietHoursEnabled bool   `envconfig:"QUIET_HOURS_ENABLED" default:"false"`
	QuietHoursStart   string `envconfig:"QUIET_HOURS_START" default:"22:00"`
	QuietHoursEnd     string `envconfig:"QUIET_HOURS_END" default:"07:00"`
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DeliveryChannel = strings.ToLower(strings.TrimSpace(cfg.DeliveryChannel))
	cfg.NotifyPermission = strings.ToLower(strings.TrimSpace(cfg.NotifyPermission))
	cfg.RemoteBaseURL = strings.TrimRight(strings.TrimSpace(cfg.RemoteBaseURL), "/")
	if strings.TrimSpace(cfg.RemoteBasePath) == "" {
		cfg.RemoteBasePath = cfg.APIBasePath
	}
	cfg.RemoteBasePath = normalizeBasePath(cfg.RemoteBasePath)

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be sqlite or postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	if strings.TrimSpace(cfg.UserID) == "" {
		return cfg, errors.New("USER_ID must not be empty")
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, fmt.Errorf("TIMEZONE: %w", err)
	}
	switch cfg.DeliveryChannel {
	case "native", "web", "push", "none":
	default:
		return cfg, errors.New("DELIVERY_CHANNEL must be one of: native, web, push, none")
	}
	switch cfg.NotifyPermission {
	case "granted", "denied":
	default:
		return cfg, errors.New("NOTIFY_PERMISSION must be granted or denied")
	}
	for name, d := range map[string]time.Duration{
		"NATIVE_HORIZON":         cfg.NativeHorizon,
		"WEB_HORIZON":            cfg.WebHorizon,
		"RESCHEDULE_INTERVAL":    cfg.RescheduleInterval,
		"SYNC_INTERVAL":          cfg.SyncInterval,
		"MISSED_SWEEP_INTERVAL":  cfg.MissedSweepInterval,
		"NATIVE_POLL_INTERVAL":   cfg.NativePollInterval,
		"CONNECTIVITY_INTERVAL":  cfg.ConnectivityInterval,
		"PURGE_INTERVAL":         cfg.PurgeInterval,
		"OFFLINE_RETENTION":      cfg.OfflineRetention,
		"REMOTE_TIMEOUT":         cfg.RemoteTimeout,
		"PUSH_RETRY_INTERVAL":    cfg.PushRetryInterval,
		"PUSH_RESEND_INTERVAL":   cfg.PushResendInterval,
		"PERMISSION_SESSION_TTL": cfg.PermissionTTL,
	} {
		if d <= 0 {
			return cfg, fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if cfg.DuplicateWindow < 0 || cfg.MissedGrace < 0 {
		return cfg, errors.New("DUPLICATE_WINDOW and MISSED_GRACE must be >= 0")
	}
	if cfg.LowStockThreshold < 0 {
		return cfg, errors.New("LOW_STOCK_THRESHOLD must be >= 0")
	}
	if cfg.RejectedRetry < 0 || cfg.OfflineAttempts < 0 {
		return cfg, errors.New("OFFLINE_REJECTED_RETRY and OFFLINE_MAX_ATTEMPTS must be >= 0")
	}
	if _, err := cfg.QuietHours(); err != nil {
		return cfg, fmt.Errorf("QUIET_HOURS_START/END: %w", err)
	}
	if cfg.DeliveryChannel == "push" && strings.TrimSpace(cfg.RedisURL) == "" {
		return cfg, errors.New("REDIS_URL is required when DELIVERY_CHANNEL=push")
	}

	return cfg, nil
}

// Location resolves TIMEZONE.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// QuietHours returns the default quiet-hours window.
func (c Config) QuietHours() (quiethours.QuietHours, error) {
	return quiethours.Parse(c.QuietHoursEnabled, c.QuietHoursStart, c.QuietHoursEnd)
}

// Horizon returns the look-ahead for the configured channel.
func (c Config) Horizon() time.Duration {
	if c.DeliveryChannel == "web" {
		return c.WebHorizon
	}
	return c.NativeHorizon
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
