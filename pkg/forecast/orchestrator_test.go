package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlendWeight(t *testing.T) {
	assert.Equal(t, 0.30, BlendWeight(0.59))
	assert.Equal(t, 0.60, BlendWeight(0.60))
	assert.Equal(t, 0.30, BlendWeight(0.01))
	assert.Equal(t, 0.0, BlendWeight(0))
	assert.Equal(t, 0.0, BlendWeight(-0.5))
	assert.Equal(t, 0.85, BlendWeight(0.85))
	assert.Equal(t, 1.0, BlendWeight(1.4))
	assert.Equal(t, 0.0, BlendWeight(math.NaN()))
}

func TestBlendMethod(t *testing.T) {
	assert.Equal(t, "rule_based_iterative", BlendMethod(0))
	assert.Equal(t, "ml_iterative", BlendMethod(1))
	assert.Equal(t, "blended (ML: 30% | Rule: 70%)", BlendMethod(0.3))
	assert.Equal(t, "blended (ML: 60% | Rule: 40%)", BlendMethod(0.6))
}

func TestCreateForecast(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	mlResult := func(accuracy float64) types.ForecastResult {
		return types.NewForecastResult(20, 10, 59, 56, types.MethodML, true, types.WithModelAccuracy(accuracy))
	}
	ruleResult := types.NewForecastResult(10, 8, 85, 76.5, types.MethodRuleBased, true)

	newOrchestrator := func(cfg OrchestratorConfig) *Orchestrator {
		return NewOrchestrator(cfg, WithLocation(time.UTC), WithClock(clock(now)))
	}

	t.Run("Low Accuracy Model Is Down Weighted", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{res: mlResult(0.59)},
			RuleBased: &stubStrategy{res: ruleResult},
			Predictor: &fakePredictor{},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.InDelta(t, 13.0, f.Today, 1e-9)
		assert.InDelta(t, 8.6, f.Tomorrow, 1e-9)
		assert.InDelta(t, 77.2, f.Confidence, 1e-9)
		assert.Equal(t, "blended (ML: 30% | Rule: 70%)", f.Method)
		require.NotNil(t, f.ModelAccuracy)
		assert.Equal(t, 0.59, *f.ModelAccuracy)
	})

	t.Run("Accuracy At Threshold Is Trusted", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{res: mlResult(0.60)},
			RuleBased: &stubStrategy{res: ruleResult},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.InDelta(t, 16.0, f.Today, 1e-9)
		assert.InDelta(t, 9.2, f.Tomorrow, 1e-9)
		assert.Equal(t, "blended (ML: 60% | Rule: 40%)", f.Method)
		assert.Nil(t, f.ModelAccuracy)
	})

	t.Run("Perfect Model", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{res: mlResult(1)},
			RuleBased: &stubStrategy{res: ruleResult},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, 20.0, f.Today)
		assert.Equal(t, "ml_iterative", f.Method)
	})

	t.Run("ML Failure Falls Back To Rule Based", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{err: &ModelError{Op: "predict", Err: errors.New("boom")}},
			RuleBased: &stubStrategy{res: ruleResult},
			Predictor: &fakePredictor{},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, "rule_based_iterative", f.Method)
		assert.Equal(t, 10.0, f.Today)
		assert.Equal(t, 8.0, f.Tomorrow)
		assert.Equal(t, 85.0, f.Confidence)
		require.NotNil(t, f.ModelAccuracy)
		assert.Equal(t, 0.0, *f.ModelAccuracy)
	})

	t.Run("ML Failure Without Predictor Has No Accuracy", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{err: errors.New("boom")},
			RuleBased: &stubStrategy{res: ruleResult},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, "rule_based_iterative", f.Method)
		assert.Nil(t, f.ModelAccuracy)
	})

	t.Run("Unavailable ML Is Not Invoked", func(t *testing.T) {
		ml := &stubStrategy{res: mlResult(0.9), unavailable: true}
		o := newOrchestrator(OrchestratorConfig{ML: ml, RuleBased: &stubStrategy{res: ruleResult}})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, 0, ml.calls)
		assert.Equal(t, "rule_based_iterative", f.Method)
	})

	t.Run("Rule Failure Uses ML Values", func(t *testing.T) {
		ml := types.NewForecastResult(20, 10, 90, 85.5, types.MethodML, true, types.WithModelAccuracy(0.9))
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{res: ml},
			RuleBased: &stubStrategy{err: errors.New("boom")},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.InDelta(t, 20.0, f.Today, 1e-9)
		assert.InDelta(t, 10.0, f.Tomorrow, 1e-9)
		assert.InDelta(t, 84.0, f.Confidence, 1e-9)
		assert.Equal(t, "blended (ML: 90% | Rule: 10%)", f.Method)
	})

	t.Run("Total Failure Is A Zero Forecast", func(t *testing.T) {
		o := newOrchestrator(OrchestratorConfig{
			ML:        &stubStrategy{err: errors.New("boom")},
			RuleBased: &stubStrategy{err: errors.New("boom")},
		})
		f := o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, types.Forecast{PeakTime: "12:00", Method: "unavailable"}, f)

		f = newOrchestrator(OrchestratorConfig{}).CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, "unavailable", f.Method)
	})

	t.Run("Results Are Rounded", func(t *testing.T) {
		rule := types.NewForecastResult(10.126, 3.333, 84.96, 70, types.MethodRuleBased, true)
		f := newOrchestrator(OrchestratorConfig{RuleBased: &stubStrategy{res: rule}}).CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, 10.13, f.Today)
		assert.Equal(t, 3.33, f.Tomorrow)
		assert.Equal(t, 85.0, f.Confidence)
	})

	t.Run("Yesterday's Production Is The Lag Feature", func(t *testing.T) {
		rule := &stubStrategy{res: ruleResult}
		o := newOrchestrator(OrchestratorConfig{
			RuleBased: rule,
			History:   types.DailyProductions{"2025-03-09": 21.5, "2025-03-10": 3},
		})
		o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		assert.Equal(t, 21.5, rule.lag[types.LagProductionYesterday])

		rule = &stubStrategy{res: ruleResult}
		o = newOrchestrator(OrchestratorConfig{RuleBased: rule, History: types.DailyProductions{}})
		o.CreateForecast(ctx, nil, types.SensorData{}, 1)
		v, ok := rule.lag[types.LagProductionYesterday]
		assert.True(t, ok)
		assert.Equal(t, 0.0, v)
	})

	t.Run("Peak Time From Profile", func(t *testing.T) {
		p := &profiledPredictor{
			fakePredictor: &fakePredictor{},
			profile: &types.HourlyProfile{HourlyAverages: map[string]float64{
				"11": 0.8,
				"12": 1.0,
				"13": 1.4,
				"14": 1.1,
			}},
		}
		o := newOrchestrator(OrchestratorConfig{RuleBased: &stubStrategy{res: ruleResult}, Predictor: p})
		assert.Equal(t, "13:00", o.CreateForecast(ctx, nil, types.SensorData{}, 1).PeakTime)

		p.profile = &types.HourlyProfile{}
		assert.Equal(t, "12:00", o.CreateForecast(ctx, nil, types.SensorData{}, 1).PeakTime)
	})
}

func TestCreateForecastEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
	opts := []Option{WithLocation(time.UTC), WithClock(clock(now))}

	p := &fakePredictor{accuracy: 0.45, perHour: 2}
	o := NewOrchestrator(OrchestratorConfig{
		ML:        NewML(p, nil, opts...),
		RuleBased: NewRuleBased(nil, opts...),
		Predictor: p,
		History:   types.DailyProductions{"2025-03-09": 18},
	}, opts...)

	records := dayOfRecords("2025-03-10", 0, 20, "sunny")
	rule, err := NewRuleBased(nil, opts...).CalculateForecast(ctx, records, types.SensorData{}, 1, nil)
	require.NoError(t, err)

	f := o.CreateForecast(ctx, records, types.SensorData{}, 1)
	assert.Equal(t, "blended (ML: 30% | Rule: 70%)", f.Method)
	assert.InDelta(t, 26*0.3+rule.Today*0.7, f.Today, 0.005)
	require.NotNil(t, f.ModelAccuracy)
	assert.Equal(t, 0.45, *f.ModelAccuracy)
	require.Len(t, p.lags, 13)
	assert.Equal(t, 18.0, p.lags[0][types.LagProductionYesterday])
}
