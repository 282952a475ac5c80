package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "SETTINGS_FILE", "TWITCH_CHANNEL", "TWITCH_IRC_ADDR", "TWITCH_IRC_TLS",
		"CHAT_JOIN_TIMEOUT", "CHAT_QUEUE_SIZE", "DB_DSN", "RECORDER_MAX_BATCH", "RECORDER_FLUSH_EVERY",
		"RECORDER_QUEUE_SIZE", "RECORDER_FLUSH_TIMEOUT", "ADMIN_TOKEN", "ADMIN_USERNAME", "ADMIN_PASSWORD",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FORMAT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLER_ARG", "SERVICE_VERSION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.SettingsFile != "settings.json" {
		t.Errorf("SettingsFile = %q", cfg.SettingsFile)
	}
	if !cfg.IRCTLS {
		t.Error("TLS should default on")
	}
	if cfg.ChatJoinTimeout != 15*time.Second || cfg.ChatQueueSize != 1024 {
		t.Errorf("chat defaults = %v/%d", cfg.ChatJoinTimeout, cfg.ChatQueueSize)
	}
	if cfg.RecorderMaxBatch != 100 || cfg.RecorderFlushEvery != 1500*time.Millisecond ||
		cfg.RecorderQueueSize != 4096 || cfg.RecorderFlushTimeout != 5*time.Second {
		t.Errorf("recorder defaults = %+v", cfg)
	}
	if cfg.RecorderEnabled() {
		t.Error("recorder should be disabled without DB_DSN")
	}
	if cfg.AdminProtected() {
		t.Error("admin should be unprotected without credentials")
	}
	if cfg.OTLPEndpoint != "" || !cfg.OTLPInsecure || cfg.TraceSampleRatio != 1 || cfg.ServiceVersion != "dev" {
		t.Errorf("tracing defaults = %q/%v/%v/%q", cfg.OTLPEndpoint, cfg.OTLPInsecure, cfg.TraceSampleRatio, cfg.ServiceVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("TWITCH_CHANNEL", "#Chan")
	t.Setenv("TWITCH_IRC_TLS", "0")
	t.Setenv("CHAT_JOIN_TIMEOUT", "3s")
	t.Setenv("DB_DSN", "postgres://x")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("ADMIN_TOKEN", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.TwitchChannel != "#Chan" {
		t.Errorf("unexpected cfg %+v", cfg)
	}
	if cfg.IRCTLS {
		t.Error("TWITCH_IRC_TLS=0 should disable TLS")
	}
	if cfg.ChatJoinTimeout != 3*time.Second {
		t.Errorf("ChatJoinTimeout = %v", cfg.ChatJoinTimeout)
	}
	if !cfg.RecorderEnabled() || !cfg.AdminProtected() {
		t.Error("recorder and admin protection should be on")
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v", cfg.RateLimitRPS)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_QUEUE_SIZE", "lots")
	t.Setenv("RECORDER_FLUSH_EVERY", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for malformed values")
	}
	for _, key := range []string{"CHAT_QUEUE_SIZE", "RECORDER_FLUSH_EVERY"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		ok   bool
	}{
		{"zero queue", map[string]string{"CHAT_QUEUE_SIZE": "0"}, false},
		{"negative batch", map[string]string{"RECORDER_MAX_BATCH": "-1"}, false},
		{"zero flush", map[string]string{"RECORDER_FLUSH_EVERY": "0s"}, false},
		{"rate limit off ignores rps", map[string]string{"RATE_LIMIT_ENABLED": "0", "RATE_LIMIT_RPS": "0"}, true},
		{"rate limit on needs rps", map[string]string{"RATE_LIMIT_RPS": "0"}, false},
		{"half basic auth", map[string]string{"ADMIN_USERNAME": "admin"}, false},
		{"full basic auth", map[string]string{"ADMIN_USERNAME": "admin", "ADMIN_PASSWORD": "pw"}, true},
		{"sample ratio above one", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, false},
		{"sample ratio fraction", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "0.1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			err = cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
