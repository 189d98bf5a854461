package types

import (
	"math"
	"strconv"
	"time"
)

// HourlyProfile is the typical production shape of the site, keyed by the
// local hour of day ("0" through "23").
type HourlyProfile struct {
	HourlyAverages map[string]float64 `json:"hourlyAverages"`
	SamplesCount   int                `json:"samplesCount"`
	LastUpdated    time.Time          `json:"lastUpdated"`
	Confidence     float64            `json:"confidence"`
}

// HourKey returns the HourlyAverages key for hour.
func HourKey(hour int) string {
	return strconv.Itoa(hour)
}

// DefaultHourlyProfile returns a sine shaped profile between 06:00 and 18:00.
func DefaultHourlyProfile() HourlyProfile {
	averages := make(map[string]float64, 24)
	for h := 0; h < 24; h++ {
		v := 0.0
		if h >= 6 && h <= 18 {
			v = math.Sin(math.Pi * float64(h-6) / 12)
		}
		averages[HourKey(h)] = math.Max(0, v)
	}
	return HourlyProfile{
		HourlyAverages: averages,
		Confidence:     0.1,
	}
}

// Total is the sum of the positive hourly averages.
func (p HourlyProfile) Total() float64 {
	var total float64
	for _, v := range p.HourlyAverages {
		if v > 0 {
			total += v
		}
	}
	return total
}

// PeakHour returns the hour with the largest average, or false if the profile
// has no positive value.
func (p HourlyProfile) PeakHour() (int, bool) {
	best, bestV := 0, 0.0
	for h := 0; h < 24; h++ {
		if v := p.HourlyAverages[HourKey(h)]; v > bestV {
			best, bestV = h, v
		}
	}
	return best, bestV > 0
}
