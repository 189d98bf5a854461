package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Database = (*FirestoreProvider)(nil)
	_ Database = (*SQLiteProvider)(nil)
)

// testDatabase runs the behavior every provider must share. db must be empty.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("Settings Default To Zero", func(t *testing.T) {
		s, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, s)
	})

	t.Run("Settings Round Trip", func(t *testing.T) {
		settings := types.Settings{
			SolarCapacityKWP: 9.6,
			Latitude:         52.5,
			Longitude:        13.4,
			Timezone:         "Europe/Berlin",
			CorrectionFactor: 0.9,
			MLEnabled:        true,
		}
		require.NoError(t, db.SetSettings(ctx, settings, types.CurrentSettingsVersion))
		got, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings, got)
	})

	t.Run("Forecasts", func(t *testing.T) {
		_, err := db.GetLatestForecast(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		first := types.ForecastRecord{
			ID:        "a",
			CreatedAt: base.Add(6 * time.Hour),
			Date:      "2025-06-10",
			Forecast:  types.Forecast{Today: 20, Tomorrow: 18, Method: string(types.MethodRuleBased)},
		}
		second := types.ForecastRecord{
			ID:        "b",
			CreatedAt: base.Add(12 * time.Hour),
			Date:      "2025-06-10",
			Forecast:  types.Forecast{Today: 22, Tomorrow: 19, Method: string(types.MethodML)},
		}
		require.NoError(t, db.InsertForecast(ctx, first))
		require.NoError(t, db.InsertForecast(ctx, second))

		latest, err := db.GetLatestForecast(ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", latest.ID)
		assert.Equal(t, 22.0, latest.Forecast.Today)

		history, err := db.GetForecastHistory(ctx, base, base.Add(10*time.Hour))
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "a", history[0].ID)

		latest.ActualKWH = types.Ptr(21.0)
		latest.Accuracy = types.Ptr(0.95)
		require.NoError(t, db.UpdateForecast(ctx, latest))
		updated, err := db.GetLatestForecast(ctx)
		require.NoError(t, err)
		require.NotNil(t, updated.ActualKWH)
		assert.Equal(t, 21.0, *updated.ActualKWH)

		assert.Error(t, db.InsertForecast(ctx, types.ForecastRecord{}))
	})

	t.Run("Daily Production", func(t *testing.T) {
		for i, kwh := range []float64{10, 12, 14} {
			date := base.AddDate(0, 0, i).Format(types.DateFormat)
			require.NoError(t, db.UpsertDailyProduction(ctx, types.DailyProduction{Date: date, KWH: kwh}, types.CurrentDailyProductionVersion))
		}
		require.NoError(t, db.UpsertDailyProduction(ctx, types.DailyProduction{Date: "2025-06-11", KWH: 13}, types.CurrentDailyProductionVersion))

		got, err := db.GetDailyProductions(ctx, "2025-06-10", "2025-06-11")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "2025-06-10", got[0].Date)
		assert.Equal(t, 13.0, got[1].KWH)

		assert.Error(t, db.UpsertDailyProduction(ctx, types.DailyProduction{Date: "June 10"}, 1))
	})

	t.Run("Hourly Samples", func(t *testing.T) {
		var samples []types.HourlySample
		for h := 0; h < 5; h++ {
			samples = append(samples, types.HourlySample{
				TSHourStart: base.Add(time.Duration(h) * time.Hour),
				ActualKWH:   float64(h),
			})
		}
		require.NoError(t, db.UpsertHourlySamples(ctx, samples, types.CurrentHourlySampleVersion))
		require.NoError(t, db.UpsertHourlySamples(ctx, []types.HourlySample{{TSHourStart: base.Add(time.Hour), ActualKWH: 7}}, types.CurrentHourlySampleVersion))
		require.NoError(t, db.UpsertHourlySamples(ctx, nil, 1))

		got, err := db.GetHourlySamples(ctx, base, base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[0].TSHourStart.Equal(base))
		assert.Equal(t, 7.0, got[1].ActualKWH)
		assert.Equal(t, 2.0, got[2].ActualKWH)

		assert.Error(t, db.UpsertHourlySamples(ctx, []types.HourlySample{{ActualKWH: 1}}, 1))
	})

	t.Run("Model State", func(t *testing.T) {
		_, err := db.GetModelState(ctx)
		assert.True(t, errors.Is(err, ErrNotFound))

		state := types.ModelState{
			Version:      types.CurrentModelStateVersion,
			FeatureNames: []string{"a", "b"},
			Weights:      []float64{1.5, -2},
			Bias:         0.25,
			Lambda:       0.1,
			Accuracy:     0.8,
			SamplesUsed:  400,
		}
		require.NoError(t, db.SetModelState(ctx, state))
		got, err := db.GetModelState(ctx)
		require.NoError(t, err)
		assert.Equal(t, state.Weights, got.Weights)
		assert.Equal(t, state.FeatureNames, got.FeatureNames)
		assert.Equal(t, 400, got.SamplesUsed)
	})
}
