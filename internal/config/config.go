package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	MigrationsPath     string
	CORSAllowedOrigins []string

	// GatewaySource selects where gateway credentials live: "db" reads the
	// payment_gateways table, "env" uses the CRYPTOCLOUD_* variables below.
	GatewaySource      string
	CryptoAPIKey       string
	CryptoShopID       string
	CryptoSecretKey    string
	CryptoVerifyMode   string
	CryptoInvoiceURL   string

	CallbackSuccessPath string
	CallbackReplayTTL   time.Duration
	CallbackRateMax     int
	CallbackRateWindow  time.Duration
	TokenExpirySkew     time.Duration

	IdempotencyTTL time.Duration

	OutboundTimeout    time.Duration
	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64
	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		MigrationsPath:     valueOrDefault(k.String("MIGRATIONS_PATH"), "file://migrations"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		GatewaySource:    valueOrDefault(strings.ToLower(k.String("GATEWAY_SOURCE")), "env"),
		CryptoAPIKey:     k.String("CRYPTOCLOUD_API_KEY"),
		CryptoShopID:     k.String("CRYPTOCLOUD_SHOP_ID"),
		CryptoSecretKey:  k.String("CRYPTOCLOUD_SECRET_KEY"),
		CryptoVerifyMode: valueOrDefault(k.String("CRYPTOCLOUD_VERIFY_MODE"), "processor"),
		CryptoInvoiceURL: k.String("CRYPTOCLOUD_INVOICE_URL"),

		CallbackSuccessPath: valueOrDefault(k.String("CALLBACK_SUCCESS_PATH"), "/"),
		CallbackReplayTTL:   parseDuration(k.String("CALLBACK_REPLAY_TTL"), "10m"),
		CallbackRateMax:     k.Int("CALLBACK_RATE_MAX"),
		CallbackRateWindow:  parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
		TokenExpirySkew:     parseDuration(k.String("TOKEN_EXPIRY_SKEW"), "0s"),

		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   intOrDefault(k.Int("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: floatOrDefault(k.Float64("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests: intOrDefault(k.Int("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRate: floatOrDefault(k.Float64("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.GatewaySource {
	case "env":
		if cfg.CryptoAPIKey == "" {
			return nil, errors.New("CRYPTOCLOUD_API_KEY is required when GATEWAY_SOURCE=env")
		}
		if cfg.CryptoShopID == "" {
			return nil, errors.New("CRYPTOCLOUD_SHOP_ID is required when GATEWAY_SOURCE=env")
		}
	case "db":
	default:
		return nil, fmt.Errorf("unknown GATEWAY_SOURCE %q", cfg.GatewaySource)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func floatOrDefault(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
