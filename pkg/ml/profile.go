package ml

import (
	"math"
	"slices"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
)

// fullProfileSamples is the number of samples at which the profile is fully
// trusted.
const fullProfileSamples = 300

// BuildProfile returns the median positive production per local hour. Hours
// without production are 0.
func BuildProfile(samples []types.HourlySample, loc *time.Location, now time.Time) types.HourlyProfile {
	byHour := make(map[int][]float64, 24)
	var count int
	for _, s := range samples {
		if !(s.ActualKWH > 0) || math.IsInf(s.ActualKWH, 0) {
			continue
		}
		h := s.TSHourStart.In(loc).Hour()
		byHour[h] = append(byHour[h], s.ActualKWH)
		count++
	}

	averages := make(map[string]float64, 24)
	for h := 0; h < 24; h++ {
		averages[types.HourKey(h)] = median(byHour[h])
	}
	return types.HourlyProfile{
		HourlyAverages: averages,
		SamplesCount:   count,
		LastUpdated:    now,
		Confidence:     math.Max(0.1, math.Min(1, float64(count)/fullProfileSamples)),
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
