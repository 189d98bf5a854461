package weather

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

const (
	// OptimalTemperatureC is the module temperature with no thermal loss.
	OptimalTemperatureC = 25.0

	DefaultTemperatureFactor = 0.9
	DefaultCloudFactor       = 0.6
	FallbackCombinedFactor   = 0.5

	coldTemperatureFactor = 0.85
	minTemperatureFactor  = 0.70
	// efficiency lost per °C above the optimal temperature
	temperatureLossPerC = 0.004

	minSeasonalFactor = 0.2
	maxSeasonalFactor = 1.2
)

// conditionFactors lists the adverse conditions. Anything else is neutral.
var conditionFactors = map[string]float64{
	"rainy":           0.40,
	"pouring":         0.20,
	"snowy":           0.30,
	"snowy-rainy":     0.25,
	"hail":            0.20,
	"lightning":       0.50,
	"lightning-rainy": 0.35,
	"fog":             0.45,
	"windy":           0.95,
	"windy-variant":   0.95,
	"exceptional":     0.50,
}

// Calculator converts weather observations into efficiency multipliers. All
// methods are safe for concurrent use and never fail; invalid input yields a
// neutral default.
type Calculator struct {
	loc *time.Location
	now func() time.Time
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithLocation sets the zone used to resolve raw local timestamps.
func WithLocation(loc *time.Location) CalculatorOption {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator returns a Calculator.
func NewCalculator(opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		loc: time.Local,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TemperatureFactor returns a value in [0.70, 1.0]. Below freezing it is a
// fixed 0.85, it ramps up to 1.0 at 25 °C and loses 0.4%/°C above that.
func (c *Calculator) TemperatureFactor(tempC *float64) float64 {
	t, ok := types.Value(tempC)
	if !ok {
		return DefaultTemperatureFactor
	}
	switch {
	case t < 0:
		return coldTemperatureFactor
	case t <= OptimalTemperatureC:
		return coldTemperatureFactor + (t/OptimalTemperatureC)*(1-coldTemperatureFactor)
	default:
		return math.Max(minTemperatureFactor, 1-(t-OptimalTemperatureC)*temperatureLossPerC)
	}
}

// CloudFactor returns a stepped factor for the cloud cover percentage.
func (c *Calculator) CloudFactor(cloudPct *float64) float64 {
	p, ok := types.Value(cloudPct)
	if !ok {
		return DefaultCloudFactor
	}
	p = math.Max(0, math.Min(100, p))
	switch {
	case p < 10:
		return 1.0
	case p < 30:
		return 0.9
	case p < 60:
		return 0.65
	case p < 90:
		return 0.35
	default:
		return 0.15
	}
}

// ConditionFactor looks up the lower-cased condition code.
func (c *Calculator) ConditionFactor(condition string) float64 {
	if f, ok := conditionFactors[strings.ToLower(strings.TrimSpace(condition))]; ok {
		return f
	}
	return 1.0
}

// SeasonalFactor returns the irradiance factor for the month of date, in
// [0.2, 1.2].
func (c *Calculator) SeasonalFactor(date time.Time) float64 {
	var f float64
	switch date.Month() {
	case time.December, time.January, time.February:
		f = 0.35
	case time.March, time.April, time.May:
		f = 0.75
	case time.June, time.July, time.August:
		f = 1.0
	default:
		f = 0.65
	}
	switch date.Month() {
	case time.December, time.January:
		f *= 0.85
	case time.June, time.July:
		f *= 1.05
	}
	return math.Max(minSeasonalFactor, math.Min(maxSeasonalFactor, f))
}

// CombinedFactor multiplies the temperature, cloud and condition factors and,
// if includeSeasonal, the seasonal factor for the record's own date. A record
// without a usable timestamp uses the current date.
func (c *Calculator) CombinedFactor(ctx context.Context, rec types.HourlyWeather, includeSeasonal bool) (factor float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).WarnContext(ctx, "combined weather factor failed", slog.Any("panic", r))
			factor = FallbackCombinedFactor
		}
	}()

	factor = c.TemperatureFactor(rec.Temperature) *
		c.CloudFactor(rec.CloudCover) *
		c.ConditionFactor(rec.Condition)
	if includeSeasonal {
		date, err := rec.LocalDatetime.Resolve(c.loc)
		if err != nil {
			date = c.now().In(c.loc)
		}
		factor *= c.SeasonalFactor(date)
	}
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return FallbackCombinedFactor
	}
	return math.Max(0, factor)
}
