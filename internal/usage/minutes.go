package usage

import (
	"encoding/json"
	"fmt"
	"math"
)

// Minutes is a billable duration in hundredths of a minute. All quota and
// settlement arithmetic happens in this fixed-point form; float64 only appears
// at the JSON boundary, so repeated charges cannot drift.
type Minutes int64

// MinutesFromFloat rounds a float minute quantity to two decimals.
func MinutesFromFloat(m float64) Minutes {
	return Minutes(math.Round(m * 100))
}

// MinutesFromSeconds converts a measured duration in seconds, rounded to two
// decimal minutes.
func MinutesFromSeconds(seconds float64) Minutes {
	return MinutesFromFloat(seconds / 60)
}

// WholeMinutes converts an integral minute count (config values, tier limits).
func WholeMinutes(m int64) Minutes {
	return Minutes(m * 100)
}

// Float returns the quantity in minutes as a float64.
func (m Minutes) Float() float64 {
	return float64(m) / 100
}

func (m Minutes) String() string {
	return fmt.Sprintf("%.2f", m.Float())
}

func (m Minutes) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Float())
}

func (m *Minutes) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = MinutesFromFloat(f)
	return nil
}

func minMinutes(a, b Minutes) Minutes {
	if a < b {
		return a
	}
	return b
}
