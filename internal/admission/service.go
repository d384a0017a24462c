package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/abuse"
	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/identity"
	"github.com/voxlane/voxlane/internal/metrics"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/quota"
	"github.com/voxlane/voxlane/internal/ratelimit"
	"github.com/voxlane/voxlane/internal/transcriber"
	"github.com/voxlane/voxlane/internal/usage"
)

// DenialReason classifies why a request was refused at admission.
type DenialReason string

const (
	DeniedRateLimit    DenialReason = "rate_limited"
	DeniedBlocked      DenialReason = "blocked"
	DeniedQuota        DenialReason = "quota_exceeded"
	DeniedQueueTimeout DenialReason = "queue_timeout"
)

// Denial is a structured refusal. Exactly one of RateLimit/Quota carries the
// numeric balances for the reason; RetryAt is set when the denial is
// time-bound.
type Denial struct {
	Reason    DenialReason      `json:"reason"`
	RateLimit *ratelimit.Result `json:"rate_limit,omitempty"`
	Quota     *quota.Decision   `json:"quota,omitempty"`
	RetryAt   *time.Time        `json:"retry_at,omitempty"`
}

// Request is one transcription submission after identity resolution.
type Request struct {
	Caller           identity.Caller
	MediaURL         string
	MediaID          string
	Language         string
	Model            usage.ModelType
	EstimatedMinutes usage.Minutes
}

// Response reports a completed transcription with the minutes actually billed.
type Response struct {
	JobID           uuid.UUID     `json:"job_id"`
	DurationSeconds float64       `json:"duration_seconds"`
	BilledMinutes   usage.Minutes `json:"billed_minutes"`
}

type rateLimiter interface {
	Check(ctx context.Context, identity string, policy config.RatePolicy) (ratelimit.Result, error)
}

type abuseDetector interface {
	IsBlocked(ctx context.Context, identity string) (bool, error)
	Suspicious(ctx context.Context, identity string) (bool, error)
	Detect(ctx context.Context, identity string, obs abuse.Observation) ([]abuse.Signal, error)
}

type quotaChecker interface {
	Check(ctx context.Context, userID uuid.UUID, tier usage.Tier, requested usage.Minutes, model usage.ModelType) (quota.Decision, error)
}

type admissionQueue interface {
	Enqueue(ctx context.Context, tier usage.Tier, userID uuid.UUID) (queue.Slot, error)
	WaitForTurn(ctx context.Context, jobID uuid.UUID, timeout time.Duration) (bool, error)
	MarkDone(ctx context.Context, jobID uuid.UUID) error
}

type reconciler interface {
	Settle(ctx context.Context, userID uuid.UUID, tier usage.Tier, plan string, actual usage.Minutes, model usage.ModelType) error
}

// Service runs the full admission pipeline for one request: rate limiter,
// abuse detector, quota ledger, admission queue, downstream call, usage
// reconciliation.
type Service struct {
	limiter     rateLimiter
	detector    abuseDetector
	quotas      quotaChecker
	queue       admissionQueue
	reconciler  reconciler
	backend     transcriber.Transcriber
	rates       config.RateLimitConfig
	waitTimeout time.Duration
}

// NewService wires the pipeline.
func NewService(
	limiter rateLimiter,
	detector abuseDetector,
	quotas quotaChecker,
	q admissionQueue,
	rec reconciler,
	backend transcriber.Transcriber,
	rates config.RateLimitConfig,
	waitTimeout time.Duration,
) *Service {
	return &Service{
		limiter:     limiter,
		detector:    detector,
		quotas:      quotas,
		queue:       q,
		reconciler:  rec,
		backend:     backend,
		rates:       rates,
		waitTimeout: waitTimeout,
	}
}

// Submit admits and executes one transcription request. A non-nil Denial is a
// normal outcome, not an error; err is reserved for infrastructure faults in
// the downstream call itself.
func (s *Service) Submit(ctx context.Context, req Request) (*Response, *Denial, error) {
	key := req.Caller.Key()

	// Rate limiter first: it is the cheapest gate and independent of money.
	res, err := s.limiter.Check(ctx, key, s.policyFor(ctx, req.Caller))
	if err != nil {
		slog.Warn("admission: rate limiter unavailable, failing open", "error", err, "identity", key)
	} else if !res.Allowed {
		metrics.RequestsDeniedTotal.WithLabelValues(string(DeniedRateLimit)).Inc()
		retry := res.ResetAt
		if res.DailyRemaining != nil && *res.DailyRemaining == 0 && res.DailyResetAt != nil {
			retry = *res.DailyResetAt
		}
		return nil, &Denial{Reason: DeniedRateLimit, RateLimit: &res, RetryAt: &retry}, nil
	}

	if denial := s.checkAbuse(ctx, key, req); denial != nil {
		metrics.RequestsDeniedTotal.WithLabelValues(string(DeniedBlocked)).Inc()
		return nil, denial, nil
	}

	if !req.Caller.Anonymous() {
		dec, err := s.quotas.Check(ctx, *req.Caller.UserID, req.Caller.Tier, req.EstimatedMinutes, req.Model)
		if err != nil {
			slog.Warn("admission: quota check failed, failing open", "error", err, "user_id", *req.Caller.UserID)
		} else if !dec.Allowed {
			metrics.RequestsDeniedTotal.WithLabelValues(string(DeniedQuota)).Inc()
			return nil, &Denial{Reason: DeniedQuota, Quota: &dec}, nil
		}
	}

	return s.run(ctx, req)
}

// run holds a queue slot for the duration of the downstream call. MarkDone is
// deferred so the slot is released on success, error, timeout, and
// cancellation alike; leaking a picked slot would permanently shrink
// capacity.
func (s *Service) run(ctx context.Context, req Request) (*Response, *Denial, error) {
	userID := uuid.Nil
	if req.Caller.UserID != nil {
		userID = *req.Caller.UserID
	}

	slot, err := s.queue.Enqueue(ctx, req.Caller.Tier, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("enqueueing job: %w", err)
	}
	defer func() {
		// Release uses a fresh context: the request context may already be
		// canceled, and an unreleased slot is worse than a late release.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if derr := s.queue.MarkDone(releaseCtx, slot.JobID); derr != nil {
			slog.Error("admission: releasing queue slot failed", "error", derr, "job_id", slot.JobID)
		}
	}()

	picked, err := s.queue.WaitForTurn(ctx, slot.JobID, s.waitTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for admission slot: %w", err)
	}
	if !picked {
		metrics.RequestsDeniedTotal.WithLabelValues(string(DeniedQueueTimeout)).Inc()
		now := time.Now()
		return nil, &Denial{Reason: DeniedQueueTimeout, RetryAt: &now}, nil
	}

	result, err := s.backend.Transcribe(ctx, transcriber.Job{
		MediaURL:     req.MediaURL,
		Language:     req.Language,
		HighAccuracy: req.Model == usage.ModelHighAccuracy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("transcription failed: %w", err)
	}
	if !result.Success {
		return nil, nil, fmt.Errorf("transcription backend reported failure")
	}

	actual := usage.MinutesFromSeconds(result.DurationSeconds)
	if !req.Caller.Anonymous() {
		// The transcription already succeeded; a settlement fault is logged
		// and swallowed rather than failing the response.
		if serr := s.reconciler.Settle(ctx, userID, req.Caller.Tier, string(req.Caller.Tier), actual, req.Model); serr != nil {
			slog.Error("admission: settlement failed, minutes unaccounted",
				"error", serr, "user_id", userID, "minutes", actual)
		}
	}

	return &Response{
		JobID:           slot.JobID,
		DurationSeconds: result.DurationSeconds,
		BilledMinutes:   actual,
	}, nil, nil
}

// policyFor picks the rate policy tier: anonymous callers get the tightest
// public policy, authenticated callers the loose one, and a suspicious score
// drops either back to the tightest policy of all.
func (s *Service) policyFor(ctx context.Context, caller identity.Caller) config.RatePolicy {
	suspicious, err := s.detector.Suspicious(ctx, caller.Key())
	if err != nil {
		slog.Warn("admission: suspicion lookup failed", "error", err, "identity", caller.Key())
	}
	switch {
	case suspicious:
		return s.rates.Suspicious
	case caller.Anonymous():
		return s.rates.Anonymous
	default:
		return s.rates.Authenticated
	}
}

// checkAbuse is the hard block gate. Detection runs after the gate so the
// signals raised by this request count against the next one; a block raised
// mid-flight still refuses the current request.
func (s *Service) checkAbuse(ctx context.Context, key string, req Request) *Denial {
	blocked, err := s.detector.IsBlocked(ctx, key)
	if err != nil {
		slog.Warn("admission: block lookup failed, failing open", "error", err, "identity", key)
		return nil
	}
	if blocked {
		return &Denial{Reason: DeniedBlocked}
	}

	signals, err := s.detector.Detect(ctx, key, abuse.Observation{
		IP:        req.Caller.IP,
		UserAgent: req.Caller.UserAgent,
		MediaID:   req.MediaID,
	})
	if err != nil {
		slog.Warn("admission: abuse detection failed", "error", err, "identity", key)
		return nil
	}
	if len(signals) > 0 {
		slog.Info("abuse signals recorded", "identity", key, "count", len(signals))
		if blocked, err := s.detector.IsBlocked(ctx, key); err == nil && blocked {
			return &Denial{Reason: DeniedBlocked}
		}
	}
	return nil
}
