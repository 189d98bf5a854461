package forecast

import (
	"context"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
)

// Strategy computes a daily forecast for today and tomorrow from the hourly
// weather forecast.
type Strategy interface {
	CalculateForecast(
		ctx context.Context,
		hourly []types.HourlyWeather,
		sensors types.SensorData,
		correctionFactor float64,
		lag types.LagFeatures,
	) (types.ForecastResult, error)

	// IsAvailable reports whether the strategy can currently be used.
	IsAvailable() bool

	// Priority orders strategies; higher runs first.
	Priority() int

	Name() string
}

// HistoryCache looks up the recorded daily production for an ISO date.
type HistoryCache interface {
	DailyProduction(date string) (float64, bool)
}

// SunAlmanac provides the next sunrise and sunset.
type SunAlmanac interface {
	SunState(ctx context.Context) (types.SunState, error)
}

// ErrorReporter records failures for later inspection.
type ErrorReporter interface {
	HandleError(ctx context.Context, err error, source string)
}

// dailyTotals accumulates hourly energy into today and tomorrow by local
// calendar date.
type dailyTotals struct {
	today    float64
	tomorrow float64
	hours    int
}

func (d *dailyTotals) add(hourDate, todayDate string, tomorrowDate string, kwh float64) {
	switch hourDate {
	case todayDate:
		d.today += kwh
		d.hours++
	case tomorrowDate:
		d.tomorrow += kwh
		d.hours++
	}
}

// remainingHoursTo21 returns how many production hours are left before 21:00.
func remainingHoursTo21(hour int) float64 {
	if hour >= 21 {
		return 0
	}
	return float64(21 - hour)
}

type options struct {
	loc             *time.Location
	now             func() time.Time
	defaultCapacity float64
}

func newOptions(opts []Option) options {
	o := options{
		loc:             time.Local,
		now:             time.Now,
		defaultCapacity: types.DefaultSolarCapacityKWP,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures the strategies and the Orchestrator.
type Option func(*options)

// WithLocation sets the site's time zone used to bucket hours into days.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDefaultCapacity sets the capacity (kWp) used when the sensors don't
// report one.
func WithDefaultCapacity(kwp float64) Option {
	return func(o *options) {
		o.defaultCapacity = kwp
	}
}
