package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/raterudder/pvforecast/pkg/weather"
)

const (
	// LowAccuracyThreshold is the model accuracy below which the model only
	// gets LowAccuracyWeight in the blend.
	LowAccuracyThreshold = 0.60
	LowAccuracyWeight    = 0.30

	// missingConfidence is used for a strategy that produced no result.
	missingConfidence = 30.0

	defaultPeakTime = "12:00"
)

// OrchestratorConfig holds the collaborators of an Orchestrator. Any of them
// may be nil.
type OrchestratorConfig struct {
	ML        Strategy
	RuleBased Strategy
	// Predictor is the model behind ML, if one is bound.
	Predictor  Predictor
	History    HistoryCache
	Almanac    SunAlmanac
	Calculator *weather.Calculator
}

// Orchestrator blends the ML and rule based strategies into one forecast.
type Orchestrator struct {
	options
	ml        Strategy
	rule      Strategy
	predictor Predictor
	profile   ProfileSource
	history   HistoryCache
	almanac   SunAlmanac
	calc      *weather.Calculator
}

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		options:   newOptions(opts),
		ml:        cfg.ML,
		rule:      cfg.RuleBased,
		predictor: cfg.Predictor,
		history:   cfg.History,
		almanac:   cfg.Almanac,
		calc:      cfg.Calculator,
	}
	if o.predictor != nil {
		o.profile, _ = o.predictor.(ProfileSource)
	}
	if o.calc == nil {
		o.calc = weather.NewCalculator(weather.WithLocation(o.loc), weather.WithClock(o.now))
	}
	return o
}

// BlendWeight returns the weight of the ML result given the model accuracy.
// A model below LowAccuracyThreshold is limited to LowAccuracyWeight.
func BlendWeight(accuracy float64) float64 {
	if math.IsNaN(accuracy) {
		return 0
	}
	w := math.Max(0, math.Min(1, accuracy))
	if w > 0 && w < LowAccuracyThreshold {
		return LowAccuracyWeight
	}
	return w
}

// BlendMethod describes the blend for the given ML weight.
func BlendMethod(weight float64) string {
	switch weight {
	case 0:
		return string(types.MethodRuleBased)
	case 1:
		return string(types.MethodML)
	default:
		return fmt.Sprintf("blended (ML: %.0f%% | Rule: %.0f%%)", weight*100, (1-weight)*100)
	}
}

func (o *Orchestrator) lagFeatures(ctx context.Context) types.LagFeatures {
	lag := types.LagFeatures{types.LagProductionYesterday: 0}
	if o.history == nil {
		return lag
	}
	yesterday := o.now().In(o.loc).AddDate(0, 0, -1).Format(types.DateFormat)
	if v, ok := o.history.DailyProduction(yesterday); ok && isFinite(v) {
		lag[types.LagProductionYesterday] = v
	} else {
		log.Ctx(ctx).DebugContext(ctx, "no production recorded for yesterday", slog.String("date", yesterday))
	}
	return lag
}

func (o *Orchestrator) run(ctx context.Context, s Strategy, hourly []types.HourlyWeather, sensors types.SensorData, correctionFactor float64, lag types.LagFeatures) (*types.ForecastResult, error) {
	if s == nil || !s.IsAvailable() {
		return nil, nil
	}
	res, err := s.CalculateForecast(ctx, hourly, sensors, correctionFactor, lag.Clone())
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateForecast runs both strategies and blends their results by the model
// accuracy. It always returns a well-formed Forecast.
func (o *Orchestrator) CreateForecast(
	ctx context.Context,
	hourly []types.HourlyWeather,
	sensors types.SensorData,
	correctionFactor float64,
) types.Forecast {
	lag := o.lagFeatures(ctx)

	var accuracy float64
	mlRes, err := o.run(ctx, o.ml, hourly, sensors, correctionFactor, lag)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "ml strategy failed, falling back to rule based", slog.Any("error", err))
	} else if mlRes != nil && mlRes.ModelAccuracy != nil {
		accuracy = *mlRes.ModelAccuracy
	}

	ruleRes, err := o.run(ctx, o.rule, hourly, sensors, correctionFactor, lag)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "rule based strategy failed", slog.Any("error", err))
	}

	if mlRes == nil && ruleRes == nil {
		log.Ctx(ctx).ErrorContext(ctx, "no forecast strategy produced a result")
		return o.unavailable()
	}

	var todayML, tomorrowML, todayRule, tomorrowRule float64
	confML, confRule := missingConfidence, missingConfidence
	if mlRes != nil {
		todayML, tomorrowML, confML = mlRes.Today, mlRes.Tomorrow, mlRes.ConfidenceToday
	}
	if ruleRes != nil {
		todayRule, tomorrowRule, confRule = ruleRes.Today, ruleRes.Tomorrow, ruleRes.ConfidenceToday
	} else {
		todayRule, tomorrowRule = todayML, tomorrowML
	}
	if mlRes == nil {
		todayML, tomorrowML = todayRule, tomorrowRule
		accuracy = 0
	}

	w := BlendWeight(accuracy)
	if mlRes != nil && w == LowAccuracyWeight {
		log.Ctx(ctx).InfoContext(
			ctx,
			"model accuracy below threshold, limiting its weight",
			slog.Float64("accuracy", accuracy),
			slog.Float64("weight", w),
		)
	}

	f := types.Forecast{
		Today:      round(todayML*w+todayRule*(1-w), 2),
		Tomorrow:   round(tomorrowML*w+tomorrowRule*(1-w), 2),
		PeakTime:   o.peakTime(),
		Confidence: round(confML*w+confRule*(1-w), 1),
		Method:     BlendMethod(w),
	}
	if o.predictor != nil {
		f.ModelAccuracy = types.Ptr(accuracy)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"forecast blended",
		slog.Float64("weight", w),
		slog.Float64("todayML", todayML),
		slog.Float64("todayRule", todayRule),
		slog.Float64("today", f.Today),
		slog.Float64("tomorrow", f.Tomorrow),
		slog.String("method", f.Method),
	)
	return f
}

func (o *Orchestrator) unavailable() types.Forecast {
	f := types.Forecast{
		PeakTime: o.peakTime(),
		Method:   string(types.MethodUnavailable),
	}
	if o.predictor != nil {
		f.ModelAccuracy = types.Ptr(0.0)
	}
	return f
}

func (o *Orchestrator) hourlyProfile() (types.HourlyProfile, bool) {
	if o.profile == nil {
		return types.HourlyProfile{}, false
	}
	p := o.profile.HourlyProfile()
	if p == nil || p.Total() <= 0 {
		return types.HourlyProfile{}, false
	}
	return *p, true
}

func (o *Orchestrator) peakTime() string {
	p, ok := o.hourlyProfile()
	if !ok {
		return defaultPeakTime
	}
	h, ok := p.PeakHour()
	if !ok {
		return defaultPeakTime
	}
	return fmt.Sprintf("%02d:00", h)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
