package ml

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/forecast"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

var (
	// ErrNotTrained is returned when predicting without a model.
	ErrNotTrained = errors.New("model not trained")
	// ErrInsufficientSamples is returned when there is too little data to train.
	ErrInsufficientSamples = errors.New("insufficient training samples")
)

const DefaultMinSamples = 50

// Predictor is a ridge regression over engineered weather features. It is
// safe for concurrent use; training swaps the model atomically.
type Predictor struct {
	engineer   *FeatureEngineer
	minSamples int
	loc        *time.Location
	now        func() time.Time

	mu          sync.RWMutex
	model       *RidgeModel
	scaler      *StandardScaler
	accuracy    float64
	samples     int
	trainedAt   time.Time
	profile     *types.HourlyProfile
	peakPowerKW float64
}

var (
	_ forecast.Predictor        = (*Predictor)(nil)
	_ forecast.HealthReporter   = (*Predictor)(nil)
	_ forecast.ScalerProvider   = (*Predictor)(nil)
	_ forecast.ProfileSource    = (*Predictor)(nil)
	_ forecast.SnapshotProvider = (*Predictor)(nil)
	_ forecast.ModelSnapshot    = (*Snapshot)(nil)
)

// Configured sets up flags for the predictor and returns it.
func Configured() *Predictor {
	p := NewPredictor()
	minSamples := lflag.Int("ml-min-samples", DefaultMinSamples, "Minimum number of hourly samples before the model is used")
	lflag.Do(func() {
		if *minSamples < 1 {
			panic(fmt.Sprintf("ml-min-samples must be positive: %d", *minSamples))
		}
		p.minSamples = *minSamples
	})
	return p
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithMinSamples sets the number of samples needed to train and be healthy.
func WithMinSamples(n int) PredictorOption {
	return func(p *Predictor) {
		p.minSamples = n
	}
}

// WithLocation sets the zone used to derive local hours from samples.
func WithLocation(loc *time.Location) PredictorOption {
	return func(p *Predictor) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PredictorOption {
	return func(p *Predictor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPredictor returns an untrained Predictor.
func NewPredictor(opts ...PredictorOption) *Predictor {
	p := &Predictor{
		engineer:   NewFeatureEngineer(),
		minSamples: DefaultMinSamples,
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetLocation sets the site's time zone.
func (p *Predictor) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loc = loc
}

// SetPeakPowerKW sets the site's peak output used to cap hourly predictions.
func (p *Predictor) SetPeakPowerKW(kw float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peakPowerKW = kw
}

// ExtractFeatures implements forecast.Predictor.
func (p *Predictor) ExtractFeatures(rec types.HourlyWeather, lag types.LagFeatures, hour int, date time.Time) ([]float64, error) {
	return p.engineer.Extract(rec, lag, hour, date)
}

// FeatureNames implements forecast.Predictor.
func (p *Predictor) FeatureNames() []string {
	return p.engineer.Names()
}

// Predict implements forecast.Predictor. features must already be scaled
// when the scaler is fitted.
func (p *Predictor) Predict(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	model := p.model
	p.mu.RUnlock()
	if model == nil {
		return 0, ErrNotTrained
	}
	return model.Predict(features)
}

// Accuracy implements forecast.Predictor.
func (p *Predictor) Accuracy() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accuracy
}

// PeakPowerKW implements forecast.Predictor.
func (p *Predictor) PeakPowerKW() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peakPowerKW
}

// Healthy implements forecast.HealthReporter.
func (p *Predictor) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil && p.samples >= p.minSamples
}

// Scaler implements forecast.ScalerProvider.
func (p *Predictor) Scaler() forecast.FeatureScaler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.scaler == nil {
		return nil
	}
	return p.scaler
}

// Snapshot is a trained model and the scaler it was fit with. Training and
// loading swap in new values on the Predictor, so a Snapshot never changes.
type Snapshot struct {
	model    *RidgeModel
	scaler   *StandardScaler
	accuracy float64
}

// Scaler implements forecast.ModelSnapshot.
func (s *Snapshot) Scaler() forecast.FeatureScaler {
	if s.scaler == nil {
		return nil
	}
	return s.scaler
}

// Predict implements forecast.ModelSnapshot.
func (s *Snapshot) Predict(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.model.Predict(features)
}

// Accuracy implements forecast.ModelSnapshot.
func (s *Snapshot) Accuracy() float64 {
	return s.accuracy
}

// Snapshot implements forecast.SnapshotProvider.
func (p *Predictor) Snapshot() (forecast.ModelSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return nil, false
	}
	return &Snapshot{model: p.model, scaler: p.scaler, accuracy: p.accuracy}, true
}

// HourlyProfile implements forecast.ProfileSource.
func (p *Predictor) HourlyProfile() *types.HourlyProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.profile == nil {
		return nil
	}
	c := *p.profile
	c.HourlyAverages = make(map[string]float64, len(p.profile.HourlyAverages))
	for k, v := range p.profile.HourlyAverages {
		c.HourlyAverages[k] = v
	}
	return &c
}

// Train fits a new model on samples and swaps it in.
func (p *Predictor) Train(ctx context.Context, samples []types.HourlySample) (types.TrainingResult, error) {
	start := time.Now()
	p.mu.RLock()
	loc, minSamples := p.loc, p.minSamples
	p.mu.RUnlock()

	if len(samples) < minSamples {
		return types.TrainingResult{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(samples), minSamples)
	}

	ordered := slices.Clone(samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TSHourStart.Before(ordered[j].TSHourStart)
	})

	rows := make([][]float64, 0, len(ordered))
	targets := make([]float64, 0, len(ordered))
	for i, s := range ordered {
		if err := ctx.Err(); err != nil {
			return types.TrainingResult{}, err
		}
		local := s.TSHourStart.In(loc)
		features, err := p.engineer.Extract(s.Weather, types.LagFeatures{
			types.LagProductionYesterday: s.ProductionYesterday,
		}, local.Hour(), local)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping training sample", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		rows = append(rows, features)
		targets = append(targets, s.ActualKWH)
	}
	if len(rows) < minSamples {
		return types.TrainingResult{}, fmt.Errorf("%w: %d usable of %d", ErrInsufficientSamples, len(rows), len(samples))
	}

	scaler, err := FitScaler(rows)
	if err != nil {
		return types.TrainingResult{}, fmt.Errorf("failed to fit scaler: %w", err)
	}
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		if scaled[i], err = scaler.Transform(row); err != nil {
			return types.TrainingResult{}, fmt.Errorf("failed to scale features: %w", err)
		}
	}

	model, accuracy, err := SelectRidge(scaled, targets, DefaultLambdas)
	if err != nil {
		return types.TrainingResult{}, fmt.Errorf("failed to fit model: %w", err)
	}
	now := p.now()
	profile := BuildProfile(ordered, loc, now)

	p.mu.Lock()
	p.model = &model
	p.scaler = scaler
	p.accuracy = accuracy
	p.samples = len(rows)
	p.trainedAt = now
	p.profile = &profile
	p.mu.Unlock()

	res := types.TrainingResult{
		Accuracy:    accuracy,
		Lambda:      model.Lambda,
		SamplesUsed: len(rows),
		Features:    len(model.Weights),
		Duration:    time.Since(start),
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"model trained",
		slog.Float64("accuracy", res.Accuracy),
		slog.Float64("lambda", res.Lambda),
		slog.Int("samples", res.SamplesUsed),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// State returns the persistable form of the model, or false if untrained.
func (p *Predictor) State() (types.ModelState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return types.ModelState{}, false
	}
	means, scales := p.scaler.Params()
	state := types.ModelState{
		Version:      types.CurrentModelStateVersion,
		FeatureNames: p.engineer.Names(),
		Weights:      slices.Clone(p.model.Weights),
		Bias:         p.model.Bias,
		Lambda:       p.model.Lambda,
		Accuracy:     p.accuracy,
		ScalerMeans:  means,
		ScalerScales: scales,
		SamplesUsed:  p.samples,
		TrainedAt:    p.trainedAt,
	}
	if p.profile != nil {
		state.Profile = *p.profile
	}
	return state, true
}

// Load replaces the model with a persisted state. States written for a
// different feature layout are rejected.
func (p *Predictor) Load(state types.ModelState) error {
	if state.Version != types.CurrentModelStateVersion {
		return fmt.Errorf("unsupported model state version: %d", state.Version)
	}
	if !slices.Equal(state.FeatureNames, p.engineer.Names()) {
		return errors.New("model state has a different feature layout")
	}
	if len(state.Weights) != len(state.FeatureNames) {
		return fmt.Errorf("model state has %d weights for %d features", len(state.Weights), len(state.FeatureNames))
	}
	scaler, err := NewStandardScaler(state.ScalerMeans, state.ScalerScales)
	if err != nil {
		return err
	}
	if scaler.Fitted() && len(state.ScalerMeans) != len(state.Weights) {
		return errors.New("model state scaler does not match weights")
	}

	profile := state.Profile
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = &RidgeModel{
		Weights: slices.Clone(state.Weights),
		Bias:    state.Bias,
		Lambda:  state.Lambda,
	}
	p.scaler = scaler
	p.accuracy = state.Accuracy
	p.samples = state.SamplesUsed
	p.trainedAt = state.TrainedAt
	if profile.HourlyAverages != nil {
		p.profile = &profile
	} else {
		p.profile = nil
	}
	return nil
}
