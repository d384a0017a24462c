package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/usage"
)

// DenialReason is a machine-readable quota denial code.
type DenialReason string

const (
	DenyDailyRequests       DenialReason = "daily_request_limit"
	DenyMonthlyMinutes      DenialReason = "monthly_minute_limit"
	DenyHighAccuracyMinutes DenialReason = "high_accuracy_limit"
)

// Remaining carries the balances for every quota dimension. Nil means
// unbounded. Populated on denials too, so the caller can render concrete
// upgrade or retry numbers.
type Remaining struct {
	DailyRequests       *int           `json:"daily_requests"`
	MonthlyMinutes      *usage.Minutes `json:"monthly_minutes"`
	HighAccuracyMinutes *usage.Minutes `json:"high_accuracy_minutes"`
	PackMinutes         usage.Minutes  `json:"pack_minutes"`
}

// Decision is the structured outcome of a quota check. Denials are ordinary
// results here, never errors.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Reason    DenialReason  `json:"reason,omitempty"`
	Remaining Remaining     `json:"remaining"`
	Usage     usage.Summary `json:"usage"`
}

type usageSummarizer interface {
	Summarize(ctx context.Context, userID uuid.UUID, now time.Time) (usage.Summary, error)
}

type packBalance interface {
	Available(ctx context.Context, userID uuid.UUID, now time.Time) (usage.Minutes, error)
}

// Service decides whether a user's tier quota and minute balance permit a
// request of the estimated size.
//
// Check and the reconciler's Settle are deliberately not serialized:
// concurrent requests from one user can both pass Check before either
// settles. That soft-quota overshoot is an accepted trade-off; already
// settled usage is never retroactively denied.
type Service struct {
	records *Store
	now     func() time.Time
}

// Store bundles the two read models Check needs.
type Store struct {
	Usage usageSummarizer
	Packs packBalance
}

// NewService creates a quota Service over the usage and pack read models.
func NewService(store *Store) *Service {
	return &Service{records: store, now: time.Now}
}

// Check runs the ordered quota checks; the first failure wins. Minute
// ceilings are lifted by available pack balance so prepaid minutes are never
// blocked by the static subscription limit.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, tier usage.Tier, requested usage.Minutes, model usage.ModelType) (Decision, error) {
	limits := LimitsFor(tier)
	if limits.Unlimited() {
		return Decision{Allowed: true}, nil
	}

	now := s.now()

	summary, err := s.records.Usage.Summarize(ctx, userID, now)
	if err != nil {
		// Same stance as the storage fail-open on the rate limiter: a
		// read failure must not turn into a denial of service.
		slog.Warn("quota: usage summary failed, allowing request", "error", err, "user_id", userID)
		return Decision{Allowed: true}, nil
	}

	var packAvail usage.Minutes
	if limits.MonthlyMinutes != nil {
		packAvail, err = s.records.Packs.Available(ctx, userID, now)
		if err != nil {
			slog.Warn("quota: pack balance read failed, ignoring packs", "error", err, "user_id", userID)
			packAvail = 0
		}
	}

	dec := Decision{
		Allowed:   true,
		Usage:     summary,
		Remaining: remaining(limits, summary, packAvail),
	}

	if limits.DailyRequests != nil && summary.RequestsToday >= *limits.DailyRequests {
		dec.Allowed = false
		dec.Reason = DenyDailyRequests
		return dec, nil
	}

	if limits.MonthlyMinutes != nil {
		effective := *limits.MonthlyMinutes
		if withPacks := summary.MonthMinutes + packAvail; withPacks > effective {
			effective = withPacks
		}
		if summary.MonthMinutes+requested > effective {
			dec.Allowed = false
			dec.Reason = DenyMonthlyMinutes
			return dec, nil
		}
	}

	if model == usage.ModelHighAccuracy && limits.MonthlyHighAccuracyMinutes != nil {
		if summary.MonthHAMinutes+requested > *limits.MonthlyHighAccuracyMinutes {
			dec.Allowed = false
			dec.Reason = DenyHighAccuracyMinutes
			return dec, nil
		}
	}

	return dec, nil
}

func remaining(limits Limits, summary usage.Summary, packAvail usage.Minutes) Remaining {
	rem := Remaining{PackMinutes: packAvail}

	if limits.DailyRequests != nil {
		left := *limits.DailyRequests - summary.RequestsToday
		if left < 0 {
			left = 0
		}
		rem.DailyRequests = &left
	}
	if limits.MonthlyMinutes != nil {
		effective := *limits.MonthlyMinutes
		if withPacks := summary.MonthMinutes + packAvail; withPacks > effective {
			effective = withPacks
		}
		left := effective - summary.MonthMinutes
		if left < 0 {
			left = 0
		}
		rem.MonthlyMinutes = &left
	}
	if limits.MonthlyHighAccuracyMinutes != nil {
		left := *limits.MonthlyHighAccuracyMinutes - summary.MonthHAMinutes
		if left < 0 {
			left = 0
		}
		rem.HighAccuracyMinutes = &left
	}
	return rem
}
