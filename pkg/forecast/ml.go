package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

const (
	MLPriority = 100

	// DefaultMaxHourlyKWH caps a single hour when the peak power is unknown.
	DefaultMaxHourlyKWH = 3.0
	// HourlySafetyMargin is applied to the peak power to cap a single hour.
	HourlySafetyMargin = 1.2
	// TomorrowDiscount accounts for the extra uncertainty of the next day.
	TomorrowDiscount = 0.92

	mlErrorSource = "ml_prediction_strategy"
)

// Predictor is a trained model that predicts the energy of a single hour.
type Predictor interface {
	ExtractFeatures(rec types.HourlyWeather, lag types.LagFeatures, hour int, date time.Time) ([]float64, error)
	Predict(ctx context.Context, features []float64) (float64, error)
	// Accuracy is the model's validation accuracy in [0,1].
	Accuracy() float64
	// PeakPowerKW is the site's peak output, 0 if unknown.
	PeakPowerKW() float64
	FeatureNames() []string
}

// HealthReporter is implemented by predictors that know whether they are fit
// for use.
type HealthReporter interface {
	Healthy() bool
}

// FeatureScaler standardizes a feature vector.
type FeatureScaler interface {
	Fitted() bool
	Transform(features []float64) ([]float64, error)
}

// ScalerProvider is implemented by predictors that expect scaled features.
type ScalerProvider interface {
	Scaler() FeatureScaler
}

// ModelSnapshot is a trained model together with the scaler and accuracy it
// was fit with. It does not change once taken.
type ModelSnapshot interface {
	Scaler() FeatureScaler
	Predict(ctx context.Context, features []float64) (float64, error)
	Accuracy() float64
}

// SnapshotProvider is implemented by predictors that can be retrained while a
// forecast is running. A forecast predicts every hour through one snapshot.
type SnapshotProvider interface {
	// Snapshot returns false when no model is trained.
	Snapshot() (ModelSnapshot, bool)
}

// ProfileSource is implemented by predictors that learned an hourly profile.
type ProfileSource interface {
	HourlyProfile() *types.HourlyProfile
}

// ML runs the Predictor over every production hour of the forecast.
type ML struct {
	options
	predictor Predictor
	health    HealthReporter
	scaler    ScalerProvider
	snapshots SnapshotProvider
	reporter  ErrorReporter
}

// NewML returns an ML strategy. predictor and reporter may be nil.
func NewML(predictor Predictor, reporter ErrorReporter, opts ...Option) *ML {
	m := &ML{
		options:   newOptions(opts),
		predictor: predictor,
		reporter:  reporter,
	}
	if predictor != nil {
		m.health, _ = predictor.(HealthReporter)
		m.scaler, _ = predictor.(ScalerProvider)
		m.snapshots, _ = predictor.(SnapshotProvider)
	}
	return m
}

func (m *ML) Name() string  { return "ml" }
func (m *ML) Priority() int { return MLPriority }

// IsAvailable implements Strategy.
func (m *ML) IsAvailable() bool {
	if m.predictor == nil {
		return false
	}
	if m.health == nil {
		return true
	}
	return m.health.Healthy()
}

func (m *ML) maxHourly() float64 {
	if peak := m.predictor.PeakPowerKW(); peak > 0 && !math.IsInf(peak, 0) {
		return peak * HourlySafetyMargin
	}
	return DefaultMaxHourlyKWH
}

func fitted(s FeatureScaler) FeatureScaler {
	if s == nil || !s.Fitted() {
		return nil
	}
	return s
}

// hourModel is what a single forecast predicts through.
type hourModel struct {
	scaler   FeatureScaler
	predict  func(ctx context.Context, features []float64) (float64, error)
	accuracy float64
}

// model resolves the scaler and model once so a concurrent retrain cannot pair
// one model's weights with another's scaler.
func (m *ML) model() hourModel {
	if m.snapshots != nil {
		if snap, ok := m.snapshots.Snapshot(); ok {
			return hourModel{
				scaler:   fitted(snap.Scaler()),
				predict:  snap.Predict,
				accuracy: snap.Accuracy(),
			}
		}
	}
	hm := hourModel{
		predict:  m.predictor.Predict,
		accuracy: m.predictor.Accuracy(),
	}
	if m.scaler != nil {
		hm.scaler = fitted(m.scaler.Scaler())
	}
	return hm
}

func (m *ML) predictHour(ctx context.Context, model hourModel, rec types.HourlyWeather, lag types.LagFeatures, ts time.Time) (float64, error) {
	features, err := m.predictor.ExtractFeatures(rec, lag.Clone(), ts.Hour(), ts)
	if err != nil {
		return 0, fmt.Errorf("failed to extract features: %w", err)
	}
	if model.scaler != nil {
		features, err = model.scaler.Transform(features)
		if err != nil {
			return 0, fmt.Errorf("failed to scale features: %w", err)
		}
	}
	kwh, err := model.predict(ctx, features)
	if err != nil {
		return 0, fmt.Errorf("failed to predict: %w", err)
	}
	if !isFinite(kwh) {
		return 0, fmt.Errorf("non-finite prediction: %v", kwh)
	}
	return kwh, nil
}

// fail reports err and wraps it in a ModelError.
func (m *ML) fail(ctx context.Context, op string, err error) error {
	merr := &ModelError{Op: op, Err: err}
	log.Ctx(ctx).ErrorContext(ctx, "ml forecast failed", slog.String("op", op), slog.Any("error", err))
	if m.reporter != nil {
		m.reporter.HandleError(ctx, merr, mlErrorSource)
	}
	return merr
}

// CalculateForecast implements Strategy. The correction factor is not used;
// the model is trained on actual production.
func (m *ML) CalculateForecast(
	ctx context.Context,
	hourly []types.HourlyWeather,
	sensors types.SensorData,
	_ float64,
	lag types.LagFeatures,
) (result types.ForecastResult, err error) {
	ctx = log.Component(ctx, m.Name())
	if !m.IsAvailable() {
		log.Ctx(ctx).DebugContext(ctx, "ml strategy unavailable")
		return types.ForecastResult{}, &ModelError{Op: "availability", Err: ErrModelUnavailable}
	}
	defer func() {
		if rec := recover(); rec != nil {
			result, err = types.ForecastResult{}, m.fail(ctx, "predict", fmt.Errorf("panic: %v", rec))
		}
	}()

	now := m.now().In(m.loc)
	todayDate := now.Format(types.DateFormat)
	tomorrowDate := now.AddDate(0, 0, 1).Format(types.DateFormat)
	maxHourly := m.maxHourly()
	model := m.model()

	var totals dailyTotals
	var attempted int
	var errs []error
	for i, rec := range hourly {
		if cerr := ctx.Err(); cerr != nil {
			return types.ForecastResult{}, m.fail(ctx, "predict", cerr)
		}
		ts, rerr := rec.LocalDatetime.Resolve(m.loc)
		if rerr != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping hour", slog.Int("index", i), slog.Any("error", rerr))
			continue
		}
		if !SeasonalProductionHour(ts, ts.Hour()) {
			continue
		}
		attempted++
		kwh, perr := m.predictHour(ctx, model, rec, lag, ts)
		if perr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to predict hour", slog.Int("index", i), slog.Any("error", perr))
			errs = append(errs, perr)
			continue
		}
		totals.add(ts.Format(types.DateFormat), todayDate, tomorrowDate, math.Max(0, math.Min(kwh, maxHourly)))
	}
	if attempted > 0 && len(errs) == attempted {
		return types.ForecastResult{}, m.fail(ctx, "predict", fmt.Errorf("all %d hours failed: %w", attempted, errors.Join(errs...)))
	}

	today := totals.today
	tomorrow := totals.tomorrow * TomorrowDiscount
	if yield, ok := types.Value(sensors.CurrentYield); ok && yield > today {
		adjusted := yield + today*0.1*remainingHoursTo21(now.Hour())
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

	accuracy := model.accuracy
	confToday := math.Max(0, math.Min(100, accuracy*100))
	res := types.NewForecastResult(
		today,
		tomorrow,
		confToday,
		confToday*0.95,
		types.MethodML,
		true,
		types.WithFeaturesUsed(len(m.predictor.FeatureNames())),
		types.WithModelAccuracy(accuracy),
	)
	log.Ctx(ctx).DebugContext(
		ctx,
		"ml forecast",
		slog.Float64("today", res.Today),
		slog.Float64("tomorrow", res.Tomorrow),
		slog.Float64("accuracy", accuracy),
		slog.Int("hours", totals.hours),
	)
	return res, nil
}
