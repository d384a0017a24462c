package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	NATS        NATSConfig
	Identity    IdentityConfig
	RateLimit   RateLimitConfig
	Abuse       AbuseConfig
	Queue       QueueConfig
	Billing     BillingConfig
	Transcriber TranscriberConfig
	Log         LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type IdentityConfig struct {
	JWTSecret string
}

// RatePolicy is one (requests, window, daily cap) rate-limit tier.
// DailyMax == 0 means no daily cap.
type RatePolicy struct {
	MaxRequests int
	Window      time.Duration
	DailyMax    int
}

type RateLimitConfig struct {
	Anonymous     RatePolicy
	Authenticated RatePolicy
	Suspicious    RatePolicy
}

type AbuseConfig struct {
	SuspicionThreshold int
	ScoreTTL           time.Duration
	BlockTTL           time.Duration
}

type QueueConfig struct {
	Enabled      bool
	Capacity     int
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Retention    time.Duration
}

type BillingConfig struct {
	OverageEnabled      bool
	OverageThresholdMin int
	OveragePriceCents   int
}

type TranscriberConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		Identity: IdentityConfig{
			JWTSecret: k.String("identity.jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			Anonymous: RatePolicy{
				MaxRequests: k.Int("ratelimit.anon.max"),
				DailyMax:    k.Int("ratelimit.anon.daily"),
			},
			Authenticated: RatePolicy{
				MaxRequests: k.Int("ratelimit.auth.max"),
				DailyMax:    k.Int("ratelimit.auth.daily"),
			},
			Suspicious: RatePolicy{
				MaxRequests: k.Int("ratelimit.suspicious.max"),
				DailyMax:    k.Int("ratelimit.suspicious.daily"),
			},
		},
		Abuse: AbuseConfig{
			SuspicionThreshold: k.Int("abuse.suspicion.threshold"),
		},
		Queue: QueueConfig{
			Enabled:  true,
			Capacity: k.Int("queue.capacity"),
		},
		Billing: BillingConfig{
			OverageEnabled:      k.Bool("billing.overage.enabled"),
			OverageThresholdMin: k.Int("billing.overage.threshold"),
			OveragePriceCents:   k.Int("billing.overage.price.cents"),
		},
		Transcriber: TranscriberConfig{
			BaseURL: k.String("transcriber.base.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// The queue is on unless explicitly switched off.
	if k.Exists("queue.enabled") {
		cfg.Queue.Enabled = k.Bool("queue.enabled")
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "voxlane"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "voxlane"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.RateLimit.Anonymous.MaxRequests == 0 {
		cfg.RateLimit.Anonymous.MaxRequests = 5
	}
	if cfg.RateLimit.Anonymous.DailyMax == 0 {
		cfg.RateLimit.Anonymous.DailyMax = 20
	}
	if cfg.RateLimit.Authenticated.MaxRequests == 0 {
		cfg.RateLimit.Authenticated.MaxRequests = 30
	}
	if cfg.RateLimit.Suspicious.MaxRequests == 0 {
		cfg.RateLimit.Suspicious.MaxRequests = 2
	}
	if cfg.RateLimit.Suspicious.DailyMax == 0 {
		cfg.RateLimit.Suspicious.DailyMax = 10
	}
	if cfg.Abuse.SuspicionThreshold == 0 {
		cfg.Abuse.SuspicionThreshold = 50
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 3
	}
	if cfg.Billing.OverageThresholdMin == 0 {
		cfg.Billing.OverageThresholdMin = 200
	}
	if cfg.Billing.OveragePriceCents == 0 {
		cfg.Billing.OveragePriceCents = 10
	}
	if cfg.Transcriber.BaseURL == "" {
		cfg.Transcriber.BaseURL = "http://localhost:9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	for _, d := range []struct {
		dst      *time.Duration
		key      string
		fallback string
	}{
		{&cfg.RateLimit.Anonymous.Window, "ratelimit.anon.window", "1h"},
		{&cfg.RateLimit.Authenticated.Window, "ratelimit.auth.window", "1h"},
		{&cfg.RateLimit.Suspicious.Window, "ratelimit.suspicious.window", "1h"},
		{&cfg.Abuse.ScoreTTL, "abuse.score.ttl", "6h"},
		{&cfg.Abuse.BlockTTL, "abuse.block.ttl", "24h"},
		{&cfg.Queue.WaitTimeout, "queue.wait.timeout", "90s"},
		{&cfg.Queue.PollInterval, "queue.poll.interval", "300ms"},
		{&cfg.Queue.Retention, "queue.retention", "1h"},
		{&cfg.Transcriber.Timeout, "transcriber.timeout", "10m"},
	} {
		s := k.String(d.key)
		if s == "" {
			s = d.fallback
		}
		*d.dst, err = time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}
