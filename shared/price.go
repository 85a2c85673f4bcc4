package shared

import "math"

const (
	// DefaultTolerancePercent is the default closeness tolerance between two prices.
	DefaultTolerancePercent = 0.1
)

// IsCloseTo checks whether price p is within the provided percentage tolerance of the
// reference price r. Equal prices are always close.
func IsCloseTo(p float64, r float64, tolerancePercent float64) bool {
	if p == r {
		return true
	}
	if r == 0 {
		return false
	}

	return (math.Abs(p-r)/math.Abs(r))*100 <= tolerancePercent
}
