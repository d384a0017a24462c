package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/metrics"
	"github.com/voxlane/voxlane/internal/nats"
)

const (
	scoreKeyPrefix   = "abuse:score:"
	signalsKeyPrefix = "abuse:signals:"
	blockKeyPrefix   = "abuse:block:"
	targetKeyPrefix  = "abuse:target:"
	seenKeyPrefix    = "abuse:seen:"
	agentsKeyPrefix  = "abuse:agents:"

	maxStoredSignals = 50

	// Heuristic windows and trip points.
	targetRepeatWindow = 10 * time.Minute
	targetRepeatTrip   = 3
	burstWindow        = 10 * time.Second
	burstTrip          = 8
	agentChurnWindow   = time.Hour
	agentChurnTrip     = 3
)

// Severity of an abuse signal.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) weight() int {
	switch s {
	case SeverityHigh:
		return 30
	case SeverityMedium:
		return 15
	default:
		return 5
	}
}

// Signal is one recorded behavioral observation.
type Signal struct {
	Severity  Severity  `json:"severity"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is the per-request metadata the heuristics evaluate.
type Observation struct {
	IP        string
	UserAgent string
	MediaID   string
	At        time.Time
}

type eventPublisher interface {
	PublishIdentityBlocked(ctx context.Context, event nats.IdentityBlockedEvent) error
}

// Detector accumulates suspicion per identity in Redis and hard-blocks
// identities whose score climbs past twice the suspicious threshold. Profiles
// are created lazily on first observation and decay by key expiry, which is
// also the block expiry policy: a block lasts BlockTTL and then simply
// disappears.
type Detector struct {
	rdb    redis.Cmdable
	cfg    config.AbuseConfig
	events eventPublisher // nil when NATS is disabled
	now    func() time.Time
}

// NewDetector creates a Detector. events may be nil.
func NewDetector(rdb redis.Cmdable, cfg config.AbuseConfig, events eventPublisher) *Detector {
	return &Detector{rdb: rdb, cfg: cfg, events: events, now: time.Now}
}

// IsBlocked reports whether the identity is hard-blocked. A block fully
// refuses requests, unlike a high score which only tightens the rate policy.
func (d *Detector) IsBlocked(ctx context.Context, identity string) (bool, error) {
	n, err := d.rdb.Exists(ctx, blockKeyPrefix+identity).Result()
	if err != nil {
		return false, fmt.Errorf("checking block state: %w", err)
	}
	return n > 0, nil
}

// Block hard-blocks the identity for the configured TTL.
func (d *Detector) Block(ctx context.Context, identity, reason string) error {
	score, _ := d.SuspicionScore(ctx, identity)
	if err := d.rdb.Set(ctx, blockKeyPrefix+identity, reason, d.cfg.BlockTTL).Err(); err != nil {
		return fmt.Errorf("blocking identity: %w", err)
	}

	if d.events != nil {
		now := d.now()
		if perr := d.events.PublishIdentityBlocked(ctx, nats.IdentityBlockedEvent{
			Identity:  identity,
			Score:     score,
			Reason:    reason,
			BlockedTo: now.Add(d.cfg.BlockTTL),
			Timestamp: now,
		}); perr != nil {
			return fmt.Errorf("publishing block event: %w", perr)
		}
	}
	return nil
}

// SuspicionScore returns the identity's current score, zero if none.
func (d *Detector) SuspicionScore(ctx context.Context, identity string) (int, error) {
	v, err := d.rdb.Get(ctx, scoreKeyPrefix+identity).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading suspicion score: %w", err)
	}
	score, _ := strconv.Atoi(v)
	return score, nil
}

// Suspicious reports whether the score has crossed the threshold that selects
// the tightened rate-limit policy.
func (d *Detector) Suspicious(ctx context.Context, identity string) (bool, error) {
	score, err := d.SuspicionScore(ctx, identity)
	if err != nil {
		return false, err
	}
	return score >= d.cfg.SuspicionThreshold, nil
}

// Signals returns the identity's recorded signals, newest first.
func (d *Detector) Signals(ctx context.Context, identity string) ([]Signal, error) {
	raw, err := d.rdb.LRange(ctx, signalsKeyPrefix+identity, 0, maxStoredSignals-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading signals: %w", err)
	}
	signals := make([]Signal, 0, len(raw))
	for _, item := range raw {
		var sig Signal
		if json.Unmarshal([]byte(item), &sig) == nil {
			signals = append(signals, sig)
		}
	}
	return signals, nil
}

// Detect evaluates the heuristics against one observation, records any
// signals raised, and bumps the suspicion score. Crossing twice the
// suspicious threshold hard-blocks the identity.
func (d *Detector) Detect(ctx context.Context, identity string, obs Observation) ([]Signal, error) {
	if obs.At.IsZero() {
		obs.At = d.now()
	}

	var signals []Signal

	if obs.MediaID != "" {
		repeats, err := d.bump(ctx, targetKeyPrefix+identity+":"+obs.MediaID, targetRepeatWindow)
		if err != nil {
			return nil, err
		}
		if repeats >= targetRepeatTrip {
			signals = append(signals, Signal{Severity: SeverityMedium, Kind: "repeated_target", Timestamp: obs.At})
		}
	}

	burst, err := d.slidingCount(ctx, seenKeyPrefix+identity, obs.At)
	if err != nil {
		return nil, err
	}
	if burst >= burstTrip {
		signals = append(signals, Signal{Severity: SeverityHigh, Kind: "request_burst", Timestamp: obs.At})
	}

	if obs.IP != "" && obs.UserAgent != "" {
		agents, err := d.agentChurn(ctx, obs.IP, obs.UserAgent)
		if err != nil {
			return nil, err
		}
		if agents >= agentChurnTrip {
			signals = append(signals, Signal{Severity: SeverityMedium, Kind: "agent_churn", Timestamp: obs.At})
		}
	}

	if len(signals) == 0 {
		return nil, nil
	}

	score, err := d.record(ctx, identity, signals)
	if err != nil {
		return signals, err
	}

	if score >= 2*d.cfg.SuspicionThreshold {
		blocked, berr := d.IsBlocked(ctx, identity)
		if berr == nil && !blocked {
			if berr = d.Block(ctx, identity, "suspicion score "+strconv.Itoa(score)); berr != nil {
				return signals, berr
			}
		}
	}
	return signals, nil
}

// bump increments a windowed counter, starting its TTL on first use.
func (d *Detector) bump(ctx context.Context, key string, window time.Duration) (int, error) {
	pipe := d.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("bumping %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

func (d *Detector) slidingCount(ctx context.Context, key string, at time.Time) (int, error) {
	pipe := d.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(at.Add(-burstWindow).UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: strconv.FormatInt(at.UnixNano(), 10)})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, burstWindow+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counting request burst: %w", err)
	}
	return int(count.Val()), nil
}

func (d *Detector) agentChurn(ctx context.Context, ip, userAgent string) (int, error) {
	key := agentsKeyPrefix + ip
	pipe := d.rdb.Pipeline()
	pipe.SAdd(ctx, key, Fingerprint(userAgent, "", ""))
	card := pipe.SCard(ctx, key)
	pipe.Expire(ctx, key, agentChurnWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("tracking agent churn: %w", err)
	}
	return int(card.Val()), nil
}

// record appends the signals and returns the updated score. The score key's
// TTL slides forward on every write, so an idle identity decays to zero.
func (d *Detector) record(ctx context.Context, identity string, signals []Signal) (int, error) {
	pipe := d.rdb.Pipeline()
	var incr *redis.IntCmd
	for _, sig := range signals {
		payload, _ := json.Marshal(sig)
		pipe.LPush(ctx, signalsKeyPrefix+identity, payload)
		incr = pipe.IncrBy(ctx, scoreKeyPrefix+identity, int64(sig.Severity.weight()))
		metrics.AbuseSignalsTotal.WithLabelValues(string(sig.Severity)).Inc()
	}
	pipe.LTrim(ctx, signalsKeyPrefix+identity, 0, maxStoredSignals-1)
	pipe.Expire(ctx, signalsKeyPrefix+identity, d.cfg.ScoreTTL)
	pipe.Expire(ctx, scoreKeyPrefix+identity, d.cfg.ScoreTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("recording signals: %w", err)
	}
	return int(incr.Val()), nil
}
