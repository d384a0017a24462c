//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/voxlane/voxlane/internal/abuse"
	"github.com/voxlane/voxlane/internal/admission"
	"github.com/voxlane/voxlane/internal/api"
	"github.com/voxlane/voxlane/internal/billing"
	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/identity"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/quota"
	"github.com/voxlane/voxlane/internal/ratelimit"
	"github.com/voxlane/voxlane/internal/transcriber"
	"github.com/voxlane/voxlane/internal/usage"
)

const testJWTSecret = "integration-secret-32-characters!!!"

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server

	UsageRepo *usage.Repository
	PackRepo  *usage.PackRepository
	QueueRepo *queue.Repository

	// BackendSeconds is the audio duration the stub transcription backend
	// reports for every job.
	BackendSeconds atomic.Value
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "voxlane_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/voxlane_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	env := &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		UsageRepo:   usage.NewRepository(pool),
		PackRepo:    usage.NewPackRepository(pool),
		QueueRepo:   queue.NewRepository(pool),
	}
	env.BackendSeconds.Store(150.0)

	// Stub transcription backend
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transcriber.Result{
			Success:         true,
			DurationSeconds: env.BackendSeconds.Load().(float64),
		})
	}))
	t.Cleanup(backendSrv.Close)

	// Wire the admission pipeline with generous limits so individual tests
	// exercise one gate at a time.
	rates := config.RateLimitConfig{
		Anonymous:     config.RatePolicy{MaxRequests: 3, Window: time.Hour, DailyMax: 5},
		Authenticated: config.RatePolicy{MaxRequests: 1000, Window: time.Hour},
		Suspicious:    config.RatePolicy{MaxRequests: 2, Window: time.Hour, DailyMax: 10},
	}
	queueCfg := config.QueueConfig{
		Enabled:      true,
		Capacity:     2,
		WaitTimeout:  5 * time.Second,
		PollInterval: 50 * time.Millisecond,
		Retention:    time.Hour,
	}

	limiter := ratelimit.NewLimiter(redisClient)
	quotaSvc := quota.NewService(&quota.Store{Usage: env.UsageRepo, Packs: env.PackRepo})
	detector := abuse.NewDetector(redisClient, config.AbuseConfig{
		SuspicionThreshold: 50,
		ScoreTTL:           6 * time.Hour,
		BlockTTL:           24 * time.Hour,
	}, nil)
	reconciler := billing.NewReconciler(env.UsageRepo, env.PackRepo, nil,
		config.BillingConfig{OverageEnabled: true, OverageThresholdMin: 200, OveragePriceCents: 10})
	admissionQueue := queue.New(env.QueueRepo, queueCfg)
	backend := transcriber.NewHTTPClient(config.TranscriberConfig{BaseURL: backendSrv.URL, Timeout: 30 * time.Second})

	admissionSvc := admission.NewService(limiter, detector, quotaSvc, admissionQueue, reconciler, backend, rates, queueCfg.WaitTimeout)
	admissionHandler := admission.NewHandler(admissionSvc)
	quotaHandler := quota.NewHandler(quotaSvc, env.PackRepo)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
		SubmitTranscription: admissionHandler.Submit,
		QuotaStatus:         quotaHandler.Status,
		ListPacks:           quotaHandler.Packs,
		IdentityMiddleware:  identity.Middleware(identity.NewResolver(testJWTSecret)),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	env.Server = server

	testEnv = env
	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func SessionToken(t *testing.T, userID uuid.UUID, tier string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.SessionClaims{
		UserID: userID.String(),
		Tier:   tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing session token: %v", err)
	}
	return signed
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}

func SubmitBody(mediaID string, minutes float64) map[string]any {
	return map[string]any{
		"media_url":         "https://cdn.example.com/" + mediaID + ".mp3",
		"media_id":          mediaID,
		"model":             "standard",
		"estimated_minutes": minutes,
	}
}
