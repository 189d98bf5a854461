package types

import (
	"math"
	"time"
)

// Method identifies which strategy or blend produced a forecast.
type Method string

const (
	MethodRuleBased         Method = "rule_based_iterative"
	MethodML                Method = "ml_iterative"
	MethodEmergencyFallback Method = "emergency_fallback_rule"
	MethodUnavailable       Method = "unavailable"
)

// ForecastResult is the output of a single forecast strategy. Build it with
// NewForecastResult so the forecast and confidence ranges always hold.
type ForecastResult struct {
	Today              float64 `json:"today"`
	Tomorrow           float64 `json:"tomorrow"`
	ConfidenceToday    float64 `json:"confidenceToday"`
	ConfidenceTomorrow float64 `json:"confidenceTomorrow"`
	Method             Method  `json:"method"`
	Calibrated         bool    `json:"calibrated"`

	// optional metadata, only set by strategies that know it
	BaseCapacity     *float64 `json:"baseCapacity,omitempty"`
	CorrectionFactor *float64 `json:"correctionFactor,omitempty"`
	FeaturesUsed     *int     `json:"featuresUsed,omitempty"`
	ModelAccuracy    *float64 `json:"modelAccuracy,omitempty"`
}

// ResultOption sets optional metadata on a ForecastResult.
type ResultOption func(*ForecastResult)

// WithBaseCapacity records the capacity (kWp) the strategy used.
func WithBaseCapacity(kwp float64) ResultOption {
	return func(r *ForecastResult) {
		r.BaseCapacity = &kwp
	}
}

// WithCorrectionFactor records the correction factor the strategy applied.
func WithCorrectionFactor(cf float64) ResultOption {
	return func(r *ForecastResult) {
		r.CorrectionFactor = &cf
	}
}

// WithFeaturesUsed records the number of model features.
func WithFeaturesUsed(n int) ResultOption {
	return func(r *ForecastResult) {
		r.FeaturesUsed = &n
	}
}

// WithModelAccuracy records the model accuracy, clamped to [0,1].
func WithModelAccuracy(acc float64) ResultOption {
	return func(r *ForecastResult) {
		acc = clamp(acc, 0, 1)
		r.ModelAccuracy = &acc
	}
}

// NewForecastResult returns a ForecastResult with both forecasts floored at 0
// and both confidences clamped to [0,100]. Non-finite inputs become 0.
func NewForecastResult(today, tomorrow, confidenceToday, confidenceTomorrow float64, method Method, calibrated bool, opts ...ResultOption) ForecastResult {
	r := ForecastResult{
		Today:              today,
		Tomorrow:           tomorrow,
		ConfidenceToday:    confidenceToday,
		ConfidenceTomorrow: confidenceTomorrow,
		Method:             method,
		Calibrated:         calibrated,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r.Clamped()
}

// Clamped returns a copy with the value ranges enforced. Clamping an already
// clamped result returns it unchanged.
func (r ForecastResult) Clamped() ForecastResult {
	r.Today = clamp(finite(r.Today), 0, math.MaxFloat64)
	r.Tomorrow = clamp(finite(r.Tomorrow), 0, math.MaxFloat64)
	r.ConfidenceToday = clamp(r.ConfidenceToday, 0, 100)
	r.ConfidenceTomorrow = clamp(r.ConfidenceTomorrow, 0, 100)
	return r
}

// Forecast is the blended daily forecast published for the site.
type Forecast struct {
	Today         float64  `json:"today"`
	Tomorrow      float64  `json:"tomorrow"`
	PeakTime      string   `json:"peakTime"`
	Confidence    float64  `json:"confidence"`
	Method        string   `json:"method"`
	ModelAccuracy *float64 `json:"modelAccuracy"`
}

// ForecastRecord is a persisted Forecast along with the inputs that matter
// for later verification.
type ForecastRecord struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	Date             string    `json:"date"`
	Forecast         Forecast  `json:"forecast"`
	CorrectionFactor float64   `json:"correctionFactor"`
	HoursUsed        int       `json:"hoursUsed"`

	// filled in by the evening verification
	ActualKWH *float64 `json:"actualKWH,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
