package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			StreamIdleTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{URL: "postgres://localhost/relay"},
		Redis:    RedisConfig{URL: "redis://localhost:6379"},
		Auth: AuthConfig{
			JWTSecret:      "secret",
			AccessTokenTTL: time.Hour,
		},
		Sync:      SyncConfig{Interval: 24 * time.Hour},
		Reporting: ReportingConfig{Timezone: "UTC"},
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	cfg.Redis.URL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"RELAY_DATABASE_URL", "RELAY_REDIS_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidateBadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Reporting.Timezone = "Not/AZone"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestValidateDefaultsTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Reporting.Timezone = "  "

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Reporting.Timezone != "UTC" {
		t.Fatalf("timezone = %q, want UTC", cfg.Reporting.Timezone)
	}
}

func TestValidateNegativeQuota(t *testing.T) {
	cfg := validConfig()
	cfg.Quotas = map[string]TierConfig{
		"pro": {DailyTokens: -1},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected quota error")
	}
}
