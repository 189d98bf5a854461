package forecast

import (
	"math"

	"github.com/raterudder/pvforecast/pkg/types"
)

const (
	// negligibleKWH treats both sides as "no production" for verification.
	negligibleKWH = 0.1
	// minCorrectionChange is the smallest learned change worth saving.
	minCorrectionChange = 0.01
)

// VerificationAccuracy compares a day's forecast with the actual production.
// It returns 1 when both are negligible.
func VerificationAccuracy(predicted, actual float64) float64 {
	if predicted < negligibleKWH && actual < negligibleKWH {
		return 1
	}
	if predicted <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(actual-predicted)/predicted)
}

// LearnCorrectionFactor returns the correction factor implied by the
// verified day and whether it differs enough from current to be saved.
func LearnCorrectionFactor(current, predicted, actual float64) (float64, bool) {
	if !(predicted > negligibleKWH) || !isFinite(actual) || actual < 0 {
		return current, false
	}
	learned := math.Max(types.MinCorrectionFactor, math.Min(types.MaxCorrectionFactor, actual/predicted))
	if math.Abs(learned-current) <= minCorrectionChange {
		return current, false
	}
	return learned, true
}
