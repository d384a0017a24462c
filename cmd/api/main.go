package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/voxlane/voxlane/internal/abuse"
	"github.com/voxlane/voxlane/internal/admission"
	"github.com/voxlane/voxlane/internal/api"
	"github.com/voxlane/voxlane/internal/billing"
	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/database"
	"github.com/voxlane/voxlane/internal/identity"
	inats "github.com/voxlane/voxlane/internal/nats"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/quota"
	"github.com/voxlane/voxlane/internal/ratelimit"
	iredis "github.com/voxlane/voxlane/internal/redis"
	"github.com/voxlane/voxlane/internal/server"
	"github.com/voxlane/voxlane/internal/transcriber"
	"github.com/voxlane/voxlane/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	var publisher *inats.Publisher
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
	}

	// Storage repositories
	usageRepo := usage.NewRepository(pool)
	packRepo := usage.NewPackRepository(pool)
	queueRepo := queue.NewRepository(pool)

	// Admission components. The nil-publisher split matters: a typed nil
	// stuffed into the event interfaces would not compare equal to nil.
	limiter := ratelimit.NewLimiter(redisClient)
	quotaSvc := quota.NewService(&quota.Store{Usage: usageRepo, Packs: packRepo})

	var detector *abuse.Detector
	var reconciler *billing.Reconciler
	if publisher != nil {
		detector = abuse.NewDetector(redisClient, cfg.Abuse, publisher)
		reconciler = billing.NewReconciler(usageRepo, packRepo, publisher, cfg.Billing)
	} else {
		detector = abuse.NewDetector(redisClient, cfg.Abuse, nil)
		reconciler = billing.NewReconciler(usageRepo, packRepo, nil, cfg.Billing)
	}
	admissionQueue := queue.New(queueRepo, cfg.Queue)
	backend := transcriber.NewHTTPClient(cfg.Transcriber)

	admissionSvc := admission.NewService(
		limiter, detector, quotaSvc, admissionQueue, reconciler, backend,
		cfg.RateLimit, cfg.Queue.WaitTimeout,
	)

	// Background queue GC
	go admissionQueue.Sweeper(ctx, time.Minute)

	// Handlers
	admissionHandler := admission.NewHandler(admissionSvc)
	quotaHandler := quota.NewHandler(quotaSvc, packRepo)
	resolver := identity.NewResolver(cfg.Identity.JWTSecret)

	router := api.NewRouter(pool, natsClient, api.RouterConfig{}, api.HandlerSet{
		SubmitTranscription: admissionHandler.Submit,
		QuotaStatus:         quotaHandler.Status,
		ListPacks:           quotaHandler.Packs,
		IdentityMiddleware:  identity.Middleware(resolver),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
