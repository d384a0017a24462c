package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "voxlane",
			Password: "secret", Name: "voxlane", SSLMode: "disable", MaxConns: 25,
		},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Identity: IdentityConfig{JWTSecret: "identity-secret-that-is-at-least-32-ch!"},
		RateLimit: RateLimitConfig{
			Anonymous:     RatePolicy{MaxRequests: 5, Window: time.Hour, DailyMax: 20},
			Authenticated: RatePolicy{MaxRequests: 30, Window: time.Hour},
			Suspicious:    RatePolicy{MaxRequests: 2, Window: time.Hour, DailyMax: 10},
		},
		Queue: QueueConfig{
			Enabled: true, Capacity: 3,
			WaitTimeout: 90 * time.Second, PollInterval: 300 * time.Millisecond,
			Retention: time.Hour,
		},
		Billing: BillingConfig{OverageEnabled: true, OverageThresholdMin: 200, OveragePriceCents: 10},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.JWTSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "IDENTITY_JWT_SECRET") {
		t.Fatalf("expected IDENTITY_JWT_SECRET error, got: %v", err)
	}
}

func TestValidate_EmptyJWTSecretAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.JWTSecret = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty secret should only warn, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_QueueMisconfigured(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.Capacity = 0
	cfg.Queue.WaitTimeout = 100 * time.Millisecond
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected queue validation errors")
	}
	if !strings.Contains(err.Error(), "QUEUE_CAPACITY") {
		t.Errorf("expected QUEUE_CAPACITY error in: %v", err)
	}
	if !strings.Contains(err.Error(), "QUEUE_WAIT_TIMEOUT") {
		t.Errorf("expected QUEUE_WAIT_TIMEOUT error in: %v", err)
	}
}

func TestValidate_QueueDisabledSkipsQueueChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.Enabled = false
	cfg.Queue.Capacity = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled queue should skip capacity checks, got: %v", err)
	}
}

func TestValidate_OverageMisconfigured(t *testing.T) {
	cfg := validConfig()
	cfg.Billing.OverageThresholdMin = 0
	cfg.Billing.OveragePriceCents = -5
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected billing validation errors")
	}
	if !strings.Contains(err.Error(), "BILLING_OVERAGE_THRESHOLD") {
		t.Errorf("expected BILLING_OVERAGE_THRESHOLD error in: %v", err)
	}
	if !strings.Contains(err.Error(), "BILLING_OVERAGE_PRICE_CENTS") {
		t.Errorf("expected BILLING_OVERAGE_PRICE_CENTS error in: %v", err)
	}
}

func TestValidate_RatePolicyMisconfigured(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Suspicious = RatePolicy{}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "RATELIMIT_SUSPICIOUS") {
		t.Fatalf("expected RATELIMIT_SUSPICIOUS error, got: %v", err)
	}
}
