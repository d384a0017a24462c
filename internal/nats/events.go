package nats

import (
	"time"

	"github.com/google/uuid"
)

// Stream name.
const StreamEvents = "VOXLANE_EVENTS"

// Subject constants.
const (
	SubjectOverageBilled   = "voxlane.events.billing.overage"
	SubjectUsageSettled    = "voxlane.events.usage.settled"
	SubjectIdentityBlocked = "voxlane.events.abuse.blocked"
)

// OverageBilledEvent is published when a completed high-accuracy transcription
// pushes the user's monthly usage past the overage threshold. BilledMinutes is
// only the slice of this request that newly crossed the line.
type OverageBilledEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	BilledMinutes float64   `json:"billed_minutes"`
	PriceCents    int       `json:"price_cents_per_minute"`
	MonthTotalMin float64   `json:"month_total_minutes"`
	ThresholdMin  int       `json:"threshold_minutes"`
	Timestamp     time.Time `json:"timestamp"`
}

// UsageSettledEvent is published after each reconciliation, one per completed
// transcription, with the pack/subscription split.
type UsageSettledEvent struct {
	UserID              uuid.UUID `json:"user_id"`
	Tier                string    `json:"tier"`
	ModelType           string    `json:"model_type"`
	TotalMinutes        float64   `json:"total_minutes"`
	PackMinutes         float64   `json:"pack_minutes"`
	SubscriptionMinutes float64   `json:"subscription_minutes"`
	Fallback            bool      `json:"fallback,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// IdentityBlockedEvent is published when the abuse detector hard-blocks an identity.
type IdentityBlockedEvent struct {
	Identity  string    `json:"identity"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason"`
	BlockedTo time.Time `json:"blocked_until"`
	Timestamp time.Time `json:"timestamp"`
}
