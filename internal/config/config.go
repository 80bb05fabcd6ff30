// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, webhook credentials,
// stream delivery tuning, rate limiting, and observability.
package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-overlay-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SSEConfig tunes the Server-Sent Events delivery path.
type SSEConfig struct {
	SigningKey    []byte        // SSE_TOKEN_SIGNING_KEY (hex or raw)
	Heartbeat     time.Duration // SSE_HEARTBEAT (comment keepalive cadence)
	RingMax       int           // SSE_RING_MAX (redelivery buffer entries per tenant/audience)
	RingTTL       time.Duration // SSE_RING_TTL (redelivery buffer entry lifetime)
	TokenLifetime time.Duration // SSE_TOKEN_TTL (minted token validity)
}

// RetentionConfig tunes the background maintenance sweeps.
type RetentionConfig struct {
	TTL      time.Duration // RETENTION_TTL for raw events and command rows
	Interval time.Duration // MAINTENANCE_INTERVAL between sweeps
	Batch    int           // MAINTENANCE_BATCH rows deleted per statement
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // 0 disables (required for long-lived SSE streams)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath        string // SQLite path
	WebhookSecret string // HMAC secret shared with the event provider
	DebugEnabled  bool   // expose the /_debug endpoints

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Delivery and retention
	SSE       SSEConfig
	Retention RetentionConfig

	// Observability
	OTEL OTELConfig
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
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		// SSE connections stay open for minutes; the write timeout must not
		// apply per-connection or every stream dies mid-flight.
		WriteTimeout:   getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:    getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:        strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:        getenv("DB_PATH", "overlay.db"),
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),
		DebugEnabled:  getbool("DEBUG_ENDPOINTS_ENABLED", false),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Delivery and retention
		SSE: SSEConfig{
			SigningKey:    keyBytes(getenv("SSE_TOKEN_SIGNING_KEY", "")),
			Heartbeat:     getdur("SSE_HEARTBEAT", 25*time.Second),
			RingMax:       getint("SSE_RING_MAX", 1000),
			RingTTL:       getdur("SSE_RING_TTL", 2*time.Minute),
			TokenLifetime: getdur("SSE_TOKEN_TTL", 12*time.Hour),
		},
		Retention: RetentionConfig{
			TTL:      getdur("RETENTION_TTL", 72*time.Hour),
			Interval: getdur("MAINTENANCE_INTERVAL", time.Hour),
			Batch:    getint("MAINTENANCE_BATCH", 500),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-overlay-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.WriteTimeout < 0 {
		return cfg, errors.New("WRITE_TIMEOUT must be >= 0 (0 disables)")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.WebhookSecret == "" {
		return cfg, errors.New("WEBHOOK_SECRET must be set")
	}
	if len(cfg.SSE.SigningKey) == 0 {
		return cfg, errors.New("SSE_TOKEN_SIGNING_KEY must be set")
	}
	if cfg.SSE.Heartbeat <= 0 {
		return cfg, errors.New("SSE_HEARTBEAT must be > 0")
	}
	if cfg.SSE.RingMax < 1 {
		return cfg, errors.New("SSE_RING_MAX must be >= 1")
	}
	if cfg.SSE.RingTTL <= 0 {
		return cfg, errors.New("SSE_RING_TTL must be > 0")
	}
	if cfg.SSE.TokenLifetime <= 0 {
		return cfg, errors.New("SSE_TOKEN_TTL must be > 0")
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
	if cfg.Retention.TTL <= 0 || cfg.Retention.Interval <= 0 {
		return cfg, errors.New("RETENTION_TTL and MAINTENANCE_INTERVAL must be > 0")
	}
	if cfg.Retention.Batch < 1 {
		return cfg, errors.New("MAINTENANCE_BATCH must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// keyBytes interprets a signing key from the environment. Even-length hex
// strings are decoded; anything else is used as raw bytes.
func keyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	if len(s)%2 == 0 {
		if b, err := hex.DecodeString(s); err == nil {
			return b
		}
	}
	return []byte(s)
}
