package billing

import "github.com/voxlane/voxlane/internal/usage"

// overageSlice computes the portion of the current charge that newly crosses
// the monthly threshold. total is the month's cumulative high-accuracy usage
// after the charge was persisted, charged is this request's minutes.
//
// Minutes already over the threshold before this request are not billed again,
// and a request straddling the threshold is billed only for the part beyond
// it.
func overageSlice(total, charged, threshold usage.Minutes) usage.Minutes {
	prev := total - charged

	over := total - threshold
	if over < 0 {
		over = 0
	}
	prevOver := prev - threshold
	if prevOver < 0 {
		prevOver = 0
	}

	billed := over - prevOver
	if billed < 0 {
		billed = 0
	}
	return billed
}
