package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertForecast(ctx context.Context, rec types.ForecastRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) UpdateForecast(ctx context.Context, rec types.ForecastRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestForecast(ctx context.Context) (types.ForecastRecord, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ForecastRecord), args.Error(1)
	}
	return types.ForecastRecord{}, storage.ErrNotFound
}

func (m *MockDatabase) GetForecastHistory(ctx context.Context, start, end time.Time) ([]types.ForecastRecord, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.ForecastRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertDailyProduction(ctx context.Context, p types.DailyProduction, version int) error {
	args := m.Called(ctx, p, version)
	return args.Error(0)
}

func (m *MockDatabase) GetDailyProductions(ctx context.Context, start, end string) ([]types.DailyProduction, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.DailyProduction), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertHourlySamples(ctx context.Context, samples []types.HourlySample, version int) error {
	args := m.Called(ctx, samples, version)
	return args.Error(0)
}

func (m *MockDatabase) GetHourlySamples(ctx context.Context, start, end time.Time) ([]types.HourlySample, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.HourlySample), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetModelState(ctx context.Context) (types.ModelState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ModelState), args.Error(1)
	}
	return types.ModelState{}, storage.ErrNotFound
}

func (m *MockDatabase) SetModelState(ctx context.Context, state types.ModelState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
