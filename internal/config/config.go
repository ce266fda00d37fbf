// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Store         StoreConfig         `yaml:"store"`
	Signing       SigningConfig       `yaml:"signing"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Notify        NotifyConfig        `yaml:"notify"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings. TrustProxy takes the client
// address from X-Forwarded-For / X-Real-IP and must only be enabled behind a
// proxy that overwrites those headers.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	TrustProxy      bool          `yaml:"trust_proxy"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings for the admin
// API.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// StoreConfig describes contractor persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // memory | postgres
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// SigningConfig describes signing link settings.
type SigningConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
	// BaseURL prefixes every signing link, e.g.
	// https://onboard.example.com/contracts.
	BaseURL string `yaml:"base_url"`
}

// DocumentsConfig describes contract PDF storage and render retries.
type DocumentsConfig struct {
	Storage StorageConfig     `yaml:"storage"`
	Retry   RenderRetryConfig `yaml:"retry"`
}

// StorageConfig describes where rendered PDFs are kept.
type StorageConfig struct {
	Driver        string        `yaml:"driver"` // memory | minio
	Endpoint      string        `yaml:"endpoint"`
	Bucket        string        `yaml:"bucket"`
	AccessKeyEnv  string        `yaml:"access_key_env"`
	SecretKeyEnv  string        `yaml:"secret_key_env"`
	UseSSL        bool          `yaml:"use_ssl"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
	PublicBaseURL string        `yaml:"public_base_url"`
}

// RenderRetryConfig describes the queue of renders awaiting retry.
type RenderRetryConfig struct {
	Driver   string        `yaml:"driver"` // memory | redis
	AddrEnv  string        `yaml:"addr_env"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

// NotifyConfig describes outbound email settings.
type NotifyConfig struct {
	Driver      string        `yaml:"driver"` // log | smtp
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	From        string        `yaml:"from"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password_env"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes the circuit breaker in front of the mail relay.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// IdempotencyConfig describes replay of admin POST requests carrying an
// Idempotency-Key header.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"` // memory | redis
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "Idempotency-Key"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "ONBOARD_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Signing: SigningConfig{
			TokenTTL: 7 * 24 * time.Hour,
			BaseURL:  "http://localhost:8080/contracts",
		},
		Documents: DocumentsConfig{
			Storage: StorageConfig{
				Driver:        "memory",
				Bucket:        "contracts",
				AccessKeyEnv:  "ONBOARD_MINIO_ACCESS_KEY",
				SecretKeyEnv:  "ONBOARD_MINIO_SECRET_KEY",
				PresignExpiry: 24 * time.Hour,
				PublicBaseURL: "http://localhost:8080/documents",
			},
			Retry: RenderRetryConfig{
				Driver:   "memory",
				AddrEnv:  "ONBOARD_REDIS_ADDR",
				Key:      "onboard:render:retry",
				Interval: 30 * time.Second,
				Batch:    20,
			},
		},
		Notify: NotifyConfig{
			Driver:      "log",
			Port:        587,
			From:        "onboarding@localhost",
			PasswordEnv: "ONBOARD_SMTP_PASSWORD",
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				CoolDown:         30 * time.Second,
			},
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Driver:  "memory",
			AddrEnv: "ONBOARD_REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}

	if c.Signing.TokenTTL <= 0 {
		errs = append(errs, "signing.token_ttl must be positive")
	}
	if c.Signing.BaseURL == "" {
		errs = append(errs, "signing.base_url is required")
	}

	switch c.Documents.Storage.Driver {
	case "memory":
	case "minio":
		if c.Documents.Storage.Endpoint == "" {
			errs = append(errs, "documents.storage.endpoint is required for the minio driver")
		}
		if c.Documents.Storage.Bucket == "" {
			errs = append(errs, "documents.storage.bucket is required for the minio driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("documents.storage.driver %q is not supported (memory, minio)", c.Documents.Storage.Driver))
	}

	switch c.Documents.Retry.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("documents.retry.driver %q is not supported (memory, redis)", c.Documents.Retry.Driver))
	}
	if c.Documents.Retry.Interval <= 0 {
		errs = append(errs, "documents.retry.interval must be positive")
	}
	if c.Documents.Retry.Batch < 1 {
		errs = append(errs, "documents.retry.batch must be at least 1")
	}

	switch c.Notify.Driver {
	case "log":
	case "smtp":
		if c.Notify.Host == "" {
			errs = append(errs, "notify.host is required for the smtp driver")
		}
		if c.Notify.From == "" {
			errs = append(errs, "notify.from is required for the smtp driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.driver %q is not supported (log, smtp)", c.Notify.Driver))
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not supported (memory, redis)", c.Idempotency.Driver))
		}
		if c.Idempotency.TTL <= 0 {
			errs = append(errs, "idempotency.ttl must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ONBOARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
// Secrets are never read here; they are named by the *_env fields and
// resolved with Secret.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ONBOARD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ONBOARD_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("ONBOARD_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("ONBOARD_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("ONBOARD_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("ONBOARD_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ONBOARD_SIGNING_BASE_URL"); v != "" {
		cfg.Signing.BaseURL = v
	}
	if v := os.Getenv("ONBOARD_SIGNING_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Signing.TokenTTL = d
		}
	}
	if v := os.Getenv("ONBOARD_DOCUMENTS_STORAGE_DRIVER"); v != "" {
		cfg.Documents.Storage.Driver = v
	}
	if v := os.Getenv("ONBOARD_DOCUMENTS_RETRY_DRIVER"); v != "" {
		cfg.Documents.Retry.Driver = v
	}
	if v := os.Getenv("ONBOARD_NOTIFY_DRIVER"); v != "" {
		cfg.Notify.Driver = v
	}
}

// Secret returns the value of the environment variable named envVar, or ""
// when envVar is empty.
func Secret(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
