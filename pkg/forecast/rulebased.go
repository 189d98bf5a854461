package forecast

import (
	"context"
	"log/slog"
	"math"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/raterudder/pvforecast/pkg/weather"
)

const (
	RuleBasedPriority = 50

	// PeakKWPerKWP is the usable output per installed kWp at full sun.
	PeakKWPerKWP = 0.95
	// MaxDailyKWHPerKWP caps a single day's yield.
	MaxDailyKWHPerKWP = 8.0

	productionStartHour = 6
	productionEndHour   = 21
	productionHours     = productionEndHour - productionStartHour

	emergencyCapacityKWP = 2.0
)

// RuleBased is the physics-lite fallback strategy. It is always available and
// never returns an error.
type RuleBased struct {
	options
	calc *weather.Calculator
}

// NewRuleBased returns a RuleBased strategy. A nil calc uses a Calculator in
// the strategy's time zone.
func NewRuleBased(calc *weather.Calculator, opts ...Option) *RuleBased {
	r := &RuleBased{
		options: newOptions(opts),
		calc:    calc,
	}
	if r.calc == nil {
		r.calc = weather.NewCalculator(weather.WithLocation(r.loc), weather.WithClock(r.now))
	}
	return r
}

func (r *RuleBased) Name() string      { return "rule_based" }
func (r *RuleBased) Priority() int     { return RuleBasedPriority }
func (r *RuleBased) IsAvailable() bool { return true }

// HourFactor is the relative irradiance for a local hour: a half sine between
// 06:00 and 21:00, zero at night.
func HourFactor(hour int) float64 {
	if hour >= 22 || hour <= 5 {
		return 0
	}
	pos := (float64(hour) + 0.5 - productionStartHour) / productionHours
	if pos < 0 || pos > 1 {
		return 0
	}
	return math.Max(0, math.Sin(pos*math.Pi))
}

func (r *RuleBased) capacity(sensors types.SensorData) float64 {
	if c, ok := types.Value(sensors.SolarCapacity); ok && c > 0 {
		return c
	}
	return r.defaultCapacity
}

// CalculateForecast implements Strategy.
func (r *RuleBased) CalculateForecast(
	ctx context.Context,
	hourly []types.HourlyWeather,
	sensors types.SensorData,
	correctionFactor float64,
	_ types.LagFeatures,
) (result types.ForecastResult, err error) {
	ctx = log.Component(ctx, r.Name())
	var capacity float64
	defer func() {
		if rec := recover(); rec != nil {
			log.Ctx(ctx).ErrorContext(ctx, "rule based forecast panicked", slog.Any("panic", rec))
			result, err = r.emergency(capacity), nil
		}
	}()

	capacity = r.capacity(sensors)
	now := r.now().In(r.loc)
	todayDate := now.Format(types.DateFormat)
	tomorrowDate := now.AddDate(0, 0, 1).Format(types.DateFormat)

	var totals dailyTotals
	for i, rec := range hourly {
		ts, rerr := rec.LocalDatetime.Resolve(r.loc)
		if rerr != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping hour", slog.Int("index", i), slog.Any("error", rerr))
			continue
		}
		kwh := capacity * PeakKWPerKWP * HourFactor(ts.Hour()) * r.calc.CombinedFactor(ctx, rec, true) * correctionFactor
		totals.add(ts.Format(types.DateFormat), todayDate, tomorrowDate, math.Max(0, kwh))
	}

	if !isFinite(totals.today) || !isFinite(totals.tomorrow) {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"rule based forecast produced non-finite totals",
			slog.Float64("correctionFactor", correctionFactor),
			slog.Float64("capacity", capacity),
		)
		return r.emergency(capacity), nil
	}

	maxDaily := capacity * MaxDailyKWHPerKWP
	today := math.Max(0, math.Min(totals.today, maxDaily))
	tomorrow := math.Max(0, math.Min(totals.tomorrow, maxDaily))

	if yield, ok := types.Value(sensors.CurrentYield); ok && yield > today {
		var additional float64
		if remaining := remainingHoursTo21(now.Hour()); remaining > 0 {
			additional = today * remaining / productionHours
		} else {
			additional = today * 0.1
		}
		adjusted := yield + additional
		log.Ctx(ctx).InfoContext(
			ctx,
			"raising today's forecast to the current yield",
			slog.Float64("currentYield", yield),
			slog.Float64("forecast", today),
			slog.Float64("adjusted", adjusted),
		)
		if today > 0 {
			tomorrow *= adjusted / today
		}
		today = adjusted
	}

	confToday := RuleConfidence(correctionFactor)
	res := types.NewForecastResult(
		today,
		tomorrow,
		confToday,
		confToday*0.9,
		types.MethodRuleBased,
		true,
		types.WithBaseCapacity(capacity),
		types.WithCorrectionFactor(correctionFactor),
	)
	log.Ctx(ctx).DebugContext(
		ctx,
		"rule based forecast",
		slog.Float64("today", res.Today),
		slog.Float64("tomorrow", res.Tomorrow),
		slog.Float64("confidence", res.ConfidenceToday),
		slog.Int("hours", totals.hours),
	)
	return res, nil
}

// RuleConfidence derives the confidence from how far the correction factor
// has drifted from 1.
func RuleConfidence(correctionFactor float64) float64 {
	base := math.Max(0, 1-math.Abs(1-correctionFactor)*0.5)
	c := base * 85
	if math.IsNaN(c) {
		return 30
	}
	return math.Max(30, math.Min(95, c))
}

// emergency is the degraded result for capacity, the capacity resolved for
// this forecast or 0 if it was not resolved yet.
func (r *RuleBased) emergency(capacity float64) types.ForecastResult {
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		capacity = r.defaultCapacity
	}
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		capacity = emergencyCapacityKWP
	}
	today := capacity * 1.5
	return types.NewForecastResult(
		today,
		today*0.9,
		20,
		15,
		types.MethodEmergencyFallback,
		false,
		types.WithBaseCapacity(capacity),
	)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
