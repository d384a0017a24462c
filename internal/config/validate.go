package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if c.Identity.JWTSecret != "" && len(c.Identity.JWTSecret) < 32 {
		errs = append(errs, "IDENTITY_JWT_SECRET must be at least 32 characters")
	}
	if c.Identity.JWTSecret == "" {
		slog.Warn("IDENTITY_JWT_SECRET is empty, all callers are treated as anonymous")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	if c.Queue.Enabled {
		if c.Queue.Capacity < 1 {
			errs = append(errs, fmt.Sprintf("QUEUE_CAPACITY must be at least 1, got %d", c.Queue.Capacity))
		}
		if c.Queue.PollInterval <= 0 {
			errs = append(errs, "QUEUE_POLL_INTERVAL must be positive")
		}
		if c.Queue.WaitTimeout <= c.Queue.PollInterval {
			errs = append(errs, "QUEUE_WAIT_TIMEOUT must exceed QUEUE_POLL_INTERVAL")
		}
	}

	if c.Billing.OverageEnabled {
		if c.Billing.OverageThresholdMin < 1 {
			errs = append(errs, fmt.Sprintf("BILLING_OVERAGE_THRESHOLD must be at least 1, got %d", c.Billing.OverageThresholdMin))
		}
		if c.Billing.OveragePriceCents < 1 {
			errs = append(errs, fmt.Sprintf("BILLING_OVERAGE_PRICE_CENTS must be at least 1, got %d", c.Billing.OveragePriceCents))
		}
	}

	for _, p := range []struct {
		name   string
		policy RatePolicy
	}{
		{"RATELIMIT_ANON", c.RateLimit.Anonymous},
		{"RATELIMIT_AUTH", c.RateLimit.Authenticated},
		{"RATELIMIT_SUSPICIOUS", c.RateLimit.Suspicious},
	} {
		if p.policy.MaxRequests < 1 {
			errs = append(errs, fmt.Sprintf("%s_MAX must be at least 1, got %d", p.name, p.policy.MaxRequests))
		}
		if p.policy.Window <= 0 {
			errs = append(errs, fmt.Sprintf("%s_WINDOW must be positive", p.name))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
