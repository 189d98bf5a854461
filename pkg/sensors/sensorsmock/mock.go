package sensorsmock

import (
	"context"

	"github.com/raterudder/pvforecast/pkg/sensors"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockSource struct {
	mock.Mock
}

var _ sensors.Source = (*MockSource)(nil)

func (m *MockSource) Readings(ctx context.Context) (types.SensorData, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SensorData), args.Error(1)
	}
	return types.SensorData{}, nil
}

func (m *MockSource) SunState(ctx context.Context) (types.SunState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SunState), args.Error(1)
	}
	return types.SunState{}, nil
}
