package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxlane/voxlane/internal/usage"
)

func TestOverageSlice(t *testing.T) {
	threshold := usage.WholeMinutes(200)

	tests := []struct {
		name    string
		total   usage.Minutes
		charged usage.Minutes
		want    usage.Minutes
	}{
		{
			name:    "well under threshold",
			total:   usage.WholeMinutes(50),
			charged: usage.WholeMinutes(10),
			want:    0,
		},
		{
			name:    "lands exactly on threshold",
			total:   usage.WholeMinutes(200),
			charged: usage.WholeMinutes(20),
			want:    0,
		},
		{
			name:    "straddles threshold bills only the excess",
			total:   usage.WholeMinutes(205),
			charged: usage.WholeMinutes(10),
			want:    usage.WholeMinutes(5),
		},
		{
			name:    "fully past threshold bills the whole charge",
			total:   usage.WholeMinutes(250),
			charged: usage.WholeMinutes(10),
			want:    usage.WholeMinutes(10),
		},
		{
			name:    "prior overage is not rebilled",
			total:   usage.WholeMinutes(230),
			charged: usage.WholeMinutes(5),
			want:    usage.WholeMinutes(5),
		},
		{
			name:    "fractional straddle",
			total:   usage.MinutesFromFloat(200.75),
			charged: usage.MinutesFromFloat(1.5),
			want:    usage.MinutesFromFloat(0.75),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overageSlice(tt.total, tt.charged, threshold))
		})
	}
}
