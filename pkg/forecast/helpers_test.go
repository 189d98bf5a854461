package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
)

func clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// dayOfRecords returns one clear record per hour of date.
func dayOfRecords(date string, cloud, temp float64, condition string) []types.HourlyWeather {
	records := make([]types.HourlyWeather, 0, 24)
	for h := 0; h < 24; h++ {
		records = append(records, types.HourlyWeather{
			LocalDatetime: types.LocalTimestamp{Raw: fmt.Sprintf("%sT%02d:00", date, h)},
			Temperature:   types.Ptr(temp),
			CloudCover:    types.Ptr(cloud),
			Condition:     condition,
		})
	}
	return records
}

type fakePredictor struct {
	mu        sync.Mutex
	accuracy  float64
	peak      float64
	perHour   float64
	err       error
	failHours map[int]bool
	panics    bool
	lags      []types.LagFeatures
}

var _ Predictor = (*fakePredictor)(nil)

func (f *fakePredictor) ExtractFeatures(_ types.HourlyWeather, lag types.LagFeatures, hour int, _ time.Time) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lags = append(f.lags, lag)
	lag["mutated"] = 1
	return []float64{float64(hour)}, nil
}

func (f *fakePredictor) Predict(_ context.Context, features []float64) (float64, error) {
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return 0, f.err
	}
	if f.failHours[int(features[0])] {
		return 0, errors.New("bad hour")
	}
	return f.perHour, nil
}

func (f *fakePredictor) Accuracy() float64      { return f.accuracy }
func (f *fakePredictor) PeakPowerKW() float64   { return f.peak }
func (f *fakePredictor) FeatureNames() []string { return []string{"a", "b", "c"} }

type healthyPredictor struct {
	*fakePredictor
	healthy bool
}

func (h *healthyPredictor) Healthy() bool { return h.healthy }

type offsetScaler struct {
	fitted bool
	calls  int
}

func (s *offsetScaler) Fitted() bool { return s.fitted }

func (s *offsetScaler) Transform(features []float64) ([]float64, error) {
	s.calls++
	out := make([]float64, len(features))
	for i, v := range features {
		out[i] = v + 100
	}
	return out, nil
}

type scaledPredictor struct {
	*fakePredictor
	scaler *offsetScaler
}

func (s *scaledPredictor) Scaler() FeatureScaler { return s.scaler }

type fixedSnapshot struct {
	perHour  float64
	accuracy float64
	scaler   FeatureScaler
}

func (s *fixedSnapshot) Scaler() FeatureScaler { return s.scaler }
func (s *fixedSnapshot) Accuracy() float64     { return s.accuracy }

func (s *fixedSnapshot) Predict(context.Context, []float64) (float64, error) {
	return s.perHour, nil
}

type snapshotPredictor struct {
	*scaledPredictor
	snap  *fixedSnapshot
	taken int
}

func (s *snapshotPredictor) Snapshot() (ModelSnapshot, bool) {
	s.taken++
	if s.snap == nil {
		return nil, false
	}
	return s.snap, true
}

type profiledPredictor struct {
	*fakePredictor
	profile *types.HourlyProfile
}

func (p *profiledPredictor) HourlyProfile() *types.HourlyProfile { return p.profile }

type recordingReporter struct {
	errs    []error
	sources []string
}

func (r *recordingReporter) HandleError(_ context.Context, err error, source string) {
	r.errs = append(r.errs, err)
	r.sources = append(r.sources, source)
}

type stubStrategy struct {
	name        string
	res         types.ForecastResult
	err         error
	unavailable bool
	calls       int
	lag         types.LagFeatures
}

var _ Strategy = (*stubStrategy)(nil)

func (s *stubStrategy) CalculateForecast(_ context.Context, _ []types.HourlyWeather, _ types.SensorData, _ float64, lag types.LagFeatures) (types.ForecastResult, error) {
	s.calls++
	s.lag = lag
	return s.res, s.err
}

func (s *stubStrategy) IsAvailable() bool { return !s.unavailable }
func (s *stubStrategy) Priority() int     { return 0 }
func (s *stubStrategy) Name() string      { return s.name }

type stubAlmanac struct {
	state types.SunState
	err   error
}

func (s stubAlmanac) SunState(context.Context) (types.SunState, error) {
	return s.state, s.err
}
