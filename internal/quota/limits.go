package quota

import "github.com/voxlane/voxlane/internal/usage"

// Limits are the static per-tier quota ceilings. A nil field is unbounded.
type Limits struct {
	DailyRequests              *int           `json:"daily_requests"`
	MonthlyMinutes             *usage.Minutes `json:"monthly_minutes"`
	MonthlyHighAccuracyMinutes *usage.Minutes `json:"monthly_high_accuracy_minutes"`
}

// Unlimited reports whether every dimension is unbounded.
func (l Limits) Unlimited() bool {
	return l.DailyRequests == nil && l.MonthlyMinutes == nil && l.MonthlyHighAccuracyMinutes == nil
}

func intPtr(v int) *int                 { return &v }
func minPtr(whole int64) *usage.Minutes { m := usage.WholeMinutes(whole); return &m }

var tierLimits = map[usage.Tier]Limits{
	usage.TierFree: {
		DailyRequests:              intPtr(10),
		MonthlyMinutes:             minPtr(60),
		MonthlyHighAccuracyMinutes: minPtr(10),
	},
	usage.TierBasic: {
		DailyRequests:              intPtr(50),
		MonthlyMinutes:             minPtr(300),
		MonthlyHighAccuracyMinutes: minPtr(60),
	},
	usage.TierPro: {
		DailyRequests:              intPtr(200),
		MonthlyMinutes:             minPtr(1200),
		MonthlyHighAccuracyMinutes: minPtr(300),
	},
	// Premium short-circuits every check.
	usage.TierPremium: {},
}

// LimitsFor returns the static limits for a tier. Unknown tiers get the free
// tier's limits.
func LimitsFor(tier usage.Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[usage.TierFree]
}
