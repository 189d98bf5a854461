package weathermock

import (
	"context"

	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/raterudder/pvforecast/pkg/weather"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

var _ weather.Provider = (*MockProvider)(nil)

func (m *MockProvider) HourlyForecast(ctx context.Context, settings types.Settings) ([]types.HourlyWeather, error) {
	args := m.Called(ctx, settings)
	if len(args) > 0 {
		return args.Get(0).([]types.HourlyWeather), args.Error(1)
	}
	return nil, nil
}

func (m *MockProvider) Current(ctx context.Context, settings types.Settings) (types.HourlyWeather, error) {
	args := m.Called(ctx, settings)
	if len(args) > 0 {
		return args.Get(0).(types.HourlyWeather), args.Error(1)
	}
	return types.HourlyWeather{}, nil
}
