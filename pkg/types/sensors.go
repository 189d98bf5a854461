package types

// SensorData holds the live readings for the site. A nil field means the
// sensor is not configured or currently reports no value.
type SensorData struct {
	// CurrentYield is the energy produced so far today (kWh).
	CurrentYield *float64 `json:"currentYield,omitempty"`
	// Lux is the current illuminance (lx).
	Lux *float64 `json:"lux,omitempty"`
	// Temperature is the current outdoor temperature (°C).
	Temperature *float64 `json:"temperature,omitempty"`
	// Rain is the current rain rate (mm/h).
	Rain *float64 `json:"rain,omitempty"`
	// SolarCapacity is the installed capacity (kWp) if it is reported live.
	SolarCapacity *float64 `json:"solarCapacity,omitempty"`
}

// SunState holds the raw solar almanac attributes. Both values are ISO-8601
// strings as published by the almanac and may be empty.
type SunState struct {
	State       string `json:"state"`
	NextRising  string `json:"nextRising"`
	NextSetting string `json:"nextSetting"`
}

const (
	MinAdjustmentFactor = 0.0
	MaxAdjustmentFactor = 1.5
)

// AdjustmentFactors are the live multipliers applied to the next hour
// estimate.
type AdjustmentFactors struct {
	CloudLux    float64 `json:"cloudLux"`
	Temperature float64 `json:"temperature"`
	Rain        float64 `json:"rain"`
}

// NewAdjustmentFactors clamps each factor into [0, 1.5].
func NewAdjustmentFactors(cloudLux, temperature, rain float64) AdjustmentFactors {
	return AdjustmentFactors{
		CloudLux:    clamp(finite(cloudLux), MinAdjustmentFactor, MaxAdjustmentFactor),
		Temperature: clamp(finite(temperature), MinAdjustmentFactor, MaxAdjustmentFactor),
		Rain:        clamp(finite(rain), MinAdjustmentFactor, MaxAdjustmentFactor),
	}
}

// Product multiplies the factors.
func (a AdjustmentFactors) Product() float64 {
	return a.CloudLux * a.Temperature * a.Rain
}
