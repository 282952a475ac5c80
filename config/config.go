// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// The recorder and DB checks stay disabled until DB_DSN is set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Settings
	SettingsFile  string
	TwitchChannel string

	// Chat
	IRCAddress      string
	IRCTLS          bool
	ChatJoinTimeout time.Duration
	ChatQueueSize   int

	// Database
	DBDsn string

	// Recorder
	RecorderMaxBatch     int
	RecorderFlushEvery   time.Duration
	RecorderQueueSize    int
	RecorderFlushTimeout time.Duration

	// Admin
	AdminToken    string
	AdminUsername string
	AdminPassword string

	// Rate limiting on /admin/*
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing (OTLP/gRPC); empty endpoint disables export
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
	ServiceVersion   string
}

// Load reads environment variables and applies defaults. Malformed values are
// reported; missing ones fall back to defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.HTTPAddr = envString("HTTP_ADDR", ":8080")
	cfg.SettingsFile = envString("SETTINGS_FILE", "settings.json")
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")

	cfg.IRCAddress = os.Getenv("TWITCH_IRC_ADDR")
	cfg.IRCTLS = envBool("TWITCH_IRC_TLS", true)
	cfg.ChatJoinTimeout = envDuration("CHAT_JOIN_TIMEOUT", 15*time.Second, &errs)
	cfg.ChatQueueSize = envInt("CHAT_QUEUE_SIZE", 1024, &errs)

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.RecorderMaxBatch = envInt("RECORDER_MAX_BATCH", 100, &errs)
	cfg.RecorderFlushEvery = envDuration("RECORDER_FLUSH_EVERY", 1500*time.Millisecond, &errs)
	cfg.RecorderQueueSize = envInt("RECORDER_QUEUE_SIZE", 4096, &errs)
	cfg.RecorderFlushTimeout = envDuration("RECORDER_FLUSH_TIMEOUT", 5*time.Second, &errs)

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitRPS = envFloat("RATE_LIMIT_RPS", 1, &errs)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", 5, &errs)

	cfg.LogLevel = envString("LOG_LEVEL", "info")
	cfg.LogFormat = envString("LOG_FORMAT", "text")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.TraceSampleRatio = envFloat("OTEL_TRACES_SAMPLER_ARG", 1, &errs)
	cfg.ServiceVersion = envString("SERVICE_VERSION", "dev")

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects sizes and durations that would stall the pipeline.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"CHAT_QUEUE_SIZE":     c.ChatQueueSize,
		"RECORDER_MAX_BATCH":  c.RecorderMaxBatch,
		"RECORDER_QUEUE_SIZE": c.RecorderQueueSize,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	durations := map[string]time.Duration{
		"CHAT_JOIN_TIMEOUT":      c.ChatJoinTimeout,
		"RECORDER_FLUSH_EVERY":   c.RecorderFlushEvery,
		"RECORDER_FLUSH_TIMEOUT": c.RecorderFlushTimeout,
	}
	for name, v := range durations {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", name, v))
		}
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0 when rate limiting is enabled"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1], got %v", c.TraceSampleRatio))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// RecorderEnabled reports whether chat rows should be written to Postgres.
func (c *Config) RecorderEnabled() bool { return c.DBDsn != "" }

// AdminProtected reports whether any admin credential is configured.
func (c *Config) AdminProtected() bool {
	return c.AdminToken != "" || (c.AdminUsername != "" && c.AdminPassword != "")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}
