package usage

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// ParseTier maps an arbitrary tier string to a known Tier, defaulting to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierBasic, TierPro, TierPremium:
		return Tier(s)
	default:
		return TierFree
	}
}

// ModelType tags a usage record with the transcription mode and funding source.
// Pack-funded legs carry the pack_* tags so plan-usage aggregation can exclude
// them while the minutes still count toward the effective ceiling.
type ModelType string

const (
	ModelStandard         ModelType = "standard"
	ModelHighAccuracy     ModelType = "high_accuracy"
	ModelPackStandard     ModelType = "pack_standard"
	ModelPackHighAccuracy ModelType = "pack_high_accuracy"
)

// IsPack reports whether the record was funded by a minute pack.
func (m ModelType) IsPack() bool {
	return m == ModelPackStandard || m == ModelPackHighAccuracy
}

// PackVariant returns the pack-funded tag for a requested model type.
func (m ModelType) PackVariant() ModelType {
	if m == ModelHighAccuracy {
		return ModelPackHighAccuracy
	}
	return ModelPackStandard
}

// Record is one append-only usage fact. Records are never updated in place;
// daily and monthly aggregates are always derived by summing them.
type Record struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Day              time.Time `json:"day"`
	Minutes          Minutes   `json:"minutes"`
	ModelType        ModelType `json:"model_type"`
	SubscriptionType string    `json:"subscription_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// MinutePack is a prepaid or bonus balance of minutes. A pack is inert once
// drained or expired but is never deleted.
type MinutePack struct {
	ID          uuid.UUID `json:"id"`
	OrderNo     int64     `json:"order_no"`
	UserID      uuid.UUID `json:"user_id"`
	MinutesLeft Minutes   `json:"minutes_left"`
	Granted     Minutes   `json:"minutes_granted"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the pack can still fund minutes at the given instant.
func (p MinutePack) Active(now time.Time) bool {
	return p.MinutesLeft > 0 && p.ExpiresAt.After(now)
}

// Summary aggregates a user's plan usage for the current UTC day and month.
// Pack-funded records are excluded everywhere here.
type Summary struct {
	RequestsToday    int     `json:"requests_today"`
	MonthMinutes     Minutes `json:"month_minutes"`
	MonthHAMinutes   Minutes `json:"month_high_accuracy_minutes"`
}

// MonthStart returns the UTC start of the calendar month containing t.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayStart returns the UTC start of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
