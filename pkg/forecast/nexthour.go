package forecast

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

const (
	// ProductionMargin is kept clear of sunrise and sunset; the panels need
	// strong light, not just the sun above the horizon.
	ProductionMargin = 90 * time.Minute

	referenceCloudFactor = 0.65
	brightLux            = 60000.0
)

// IsProductionHour reports whether t is inside the production window. The
// almanac is used when available with ProductionMargin on each side, falling
// back to the seasonal window.
func (o *Orchestrator) IsProductionHour(ctx context.Context, t time.Time) bool {
	if start, end, ok := o.almanacWindow(ctx); ok {
		in := !t.Before(start) && !t.After(end)
		log.Ctx(ctx).DebugContext(
			ctx,
			"production check (almanac)",
			slog.Time("target", t),
			slog.Time("start", start),
			slog.Time("end", end),
			slog.Bool("production", in),
		)
		return in
	}
	local := t.In(o.loc)
	return SeasonalProductionHour(local, local.Hour())
}

func (o *Orchestrator) almanacWindow(ctx context.Context) (time.Time, time.Time, bool) {
	if o.almanac == nil {
		return time.Time{}, time.Time{}, false
	}
	st, err := o.almanac.SunState(ctx)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "sun state unavailable, using seasonal window", slog.Any("error", err))
		return time.Time{}, time.Time{}, false
	}
	rising, err := time.Parse(time.RFC3339, st.NextRising)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	setting, err := time.Parse(time.RFC3339, st.NextSetting)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	// during the day the next rising is tomorrow's
	if rising.After(setting) {
		rising = rising.Add(-24 * time.Hour)
	}
	return rising.Add(ProductionMargin), setting.Add(-ProductionMargin), true
}

// AdjustmentFactors derives the live multipliers from the sensors and the
// current weather. current may be nil.
func (o *Orchestrator) AdjustmentFactors(current *types.HourlyWeather, sensors types.SensorData) types.AdjustmentFactors {
	var weatherNow types.HourlyWeather
	if current != nil {
		weatherNow = *current
	}

	cloudLux := 1.0
	if lux, ok := types.Value(sensors.Lux); ok && lux >= 0 {
		switch {
		case lux < 1000:
			cloudLux = 0.1
		case lux < 20000:
			cloudLux = 0.1 + (lux/20000)*0.6
		default:
			cloudLux = 0.7 + math.Min((lux/brightLux)*0.5, 0.5)
		}
	} else if _, ok := types.Value(weatherNow.CloudCover); ok {
		cloudLux = o.calc.CloudFactor(weatherNow.CloudCover) / referenceCloudFactor
		cloudLux = math.Max(0.1, math.Min(1.2, cloudLux))
	}

	temperature := 1.0
	temp := sensors.Temperature
	if _, ok := types.Value(temp); !ok {
		temp = weatherNow.Temperature
	}
	if _, ok := types.Value(temp); ok {
		temperature = math.Max(0.7, math.Min(1.1, o.calc.TemperatureFactor(temp)))
	}

	rain := 1.0
	if r, ok := types.Value(sensors.Rain); ok && r > 0 {
		switch {
		case r > 5:
			rain = 0.2
		case r > 1:
			rain = 0.5
		default:
			rain = 0.8
		}
	}

	return types.NewAdjustmentFactors(cloudLux, temperature, rain)
}

// CalculateNextHourPrediction estimates the energy of the next full hour from
// today's forecast, the hourly profile and the live conditions.
func (o *Orchestrator) CalculateNextHourPrediction(
	ctx context.Context,
	forecastToday float64,
	current *types.HourlyWeather,
	sensors types.SensorData,
) (kwh float64) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Ctx(ctx).ErrorContext(ctx, "next hour prediction panicked", slog.Any("panic", rec))
			kwh = 0
		}
	}()

	target := o.now().In(o.loc).Add(time.Hour)
	if !o.IsProductionHour(ctx, target) {
		return 0
	}

	base := forecastToday / 10
	if p, ok := o.hourlyProfile(); ok {
		if v := p.HourlyAverages[types.HourKey(target.Hour())]; v > 0 {
			base = forecastToday * v / p.Total()
		}
	}

	factors := o.AdjustmentFactors(current, sensors)
	kwh = round(math.Max(0, base*factors.Product()), 3)
	if !isFinite(kwh) {
		return 0
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"next hour prediction",
		slog.Int("hour", target.Hour()),
		slog.Float64("base", base),
		slog.Float64("cloudLux", factors.CloudLux),
		slog.Float64("temperature", factors.Temperature),
		slog.Float64("rain", factors.Rain),
		slog.Float64("kwh", kwh),
	)
	return kwh
}
