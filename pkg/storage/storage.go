package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
)

// ErrNotFound is returned when a single requested record does not exist.
var ErrNotFound = errors.New("not found")

// Database defines the interface for persisting forecasts, production history
// and the trained model.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Forecasts
	InsertForecast(ctx context.Context, rec types.ForecastRecord) error
	UpdateForecast(ctx context.Context, rec types.ForecastRecord) error
	GetLatestForecast(ctx context.Context) (types.ForecastRecord, error)
	GetForecastHistory(ctx context.Context, start, end time.Time) ([]types.ForecastRecord, error)

	// Production history
	// UpsertDailyProduction adds or replaces the total for p.Date.
	UpsertDailyProduction(ctx context.Context, p types.DailyProduction, version int) error
	// GetDailyProductions returns the records with start <= date <= end.
	GetDailyProductions(ctx context.Context, start, end string) ([]types.DailyProduction, error)
	UpsertHourlySamples(ctx context.Context, samples []types.HourlySample, version int) error
	GetHourlySamples(ctx context.Context, start, end time.Time) ([]types.HourlySample, error)

	// Model
	GetModelState(ctx context.Context) (types.ModelState, error)
	SetModelState(ctx context.Context, state types.ModelState) error

	// Lifecycle
	Close() error
}
