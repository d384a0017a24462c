package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/usage"
)

// Slot is one admission-queue row. Lifecycle is enqueued → picked → done;
// a job that times out waiting goes straight to done without being picked.
type Slot struct {
	JobID     uuid.UUID  `json:"job_id"`
	Tier      usage.Tier `json:"tier"`
	UserID    uuid.UUID  `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	PickedAt  *time.Time `json:"picked_at,omitempty"`
	Done      bool       `json:"done"`
}

// TierRank orders tiers for admission priority. Paying concurrency tiers
// (pro, premium) go first, then basic, then free and anything unknown.
func TierRank(tier usage.Tier) int {
	switch tier {
	case usage.TierPro, usage.TierPremium:
		return 2
	case usage.TierBasic:
		return 1
	default:
		return 0
	}
}
