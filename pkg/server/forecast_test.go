package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func todaysRecord() types.ForecastRecord {
	return types.ForecastRecord{
		ID:        "f-1",
		CreatedAt: testNow.Add(-4 * time.Hour),
		Date:      "2025-06-15",
		Forecast: types.Forecast{
			Today:      20,
			Tomorrow:   18,
			Confidence: 70,
			Method:     string(types.MethodRuleBased),
		},
		CorrectionFactor: 1,
	}
}

func TestForecast(t *testing.T) {
	t.Run("None Yet", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetLatestForecast", mock.Anything).Return(types.ForecastRecord{}, storage.ErrNotFound)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/forecast", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Latest", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetLatestForecast", mock.Anything).Return(todaysRecord(), nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/forecast", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got types.ForecastRecord
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "f-1", got.ID)
		assert.Equal(t, 20.0, got.Forecast.Today)
	})
}

func TestNextHour(t *testing.T) {
	t.Run("Uses Todays Forecast", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetSettings", mock.Anything).Return(testSettings(), types.CurrentSettingsVersion, nil)
		d.db.On("GetLatestForecast", mock.Anything).Return(todaysRecord(), nil)
		d.weather.On("Current", mock.Anything, mock.Anything).
			Return(types.HourlyWeather{Temperature: types.Ptr(22.0), CloudCover: types.Ptr(10.0)}, nil)
		d.sensors.On("Readings", mock.Anything).Return(types.SensorData{}, nil)
		// no almanac data, the seasonal window applies
		d.sensors.On("SunState", mock.Anything).Return()

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/forecast/nexthour", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res NextHourRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Greater(t, res.KWH, 0.0)
		assert.Less(t, res.KWH, 20.0)
		assert.Equal(t, 20.0, res.ForecastToday)
		assert.Equal(t, "f-1", res.ForecastID)
		assert.True(t, res.HourStart.Equal(time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)))
	})

	t.Run("Stale Forecast", func(t *testing.T) {
		srv, d := newTestServer(t)
		rec := todaysRecord()
		rec.Date = "2025-06-14"
		d.db.On("GetSettings", mock.Anything).Return(testSettings(), types.CurrentSettingsVersion, nil)
		d.db.On("GetLatestForecast", mock.Anything).Return(rec, nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/forecast/nexthour", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		d.weather.AssertNotCalled(t, "Current", mock.Anything, mock.Anything)
	})
}

func TestHistory(t *testing.T) {
	t.Run("Forecasts In Range", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetForecastHistory", mock.Anything, mock.Anything, mock.Anything).
			Return([]types.ForecastRecord{todaysRecord()}, nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/history/forecasts?start=2025-06-01T00:00:00Z&end=2025-06-10T00:00:00Z", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "private, max-age=86400", w.Header().Get("Cache-Control"))

		var got []types.ForecastRecord
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Len(t, got, 1)

		start := d.db.Calls[0].Arguments.Get(1).(time.Time)
		assert.True(t, start.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("Empty Is An Array", func(t *testing.T) {
		srv, d := newTestServer(t)
		d.db.On("GetForecastHistory", mock.Anything, mock.Anything, mock.Anything).Return([]types.ForecastRecord(nil), nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/history/forecasts", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]\n", w.Body.String())
		assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))
	})

	t.Run("Range Too Long", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := do(t, srv.setupHandler(), http.MethodGet, "/api/history/forecasts?start=2025-04-01T00:00:00Z&end=2025-06-01T00:00:00Z", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("End Before Start", func(t *testing.T) {
		srv, _ := newTestServer(t)
		w := do(t, srv.setupHandler(), http.MethodGet, "/api/history/forecasts?start=2025-06-10T00:00:00Z&end=2025-06-01T00:00:00Z", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Production Uses Local Dates", func(t *testing.T) {
		srv, d := newTestServer(t)
		settings := testSettings()
		settings.Timezone = "America/New_York"
		d.db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)
		d.db.On("GetDailyProductions", mock.Anything, "2025-05-31", "2025-06-09").
			Return([]types.DailyProduction{{Date: "2025-06-01", KWH: 19.5}}, nil)

		w := do(t, srv.setupHandler(), http.MethodGet, "/api/history/production?start=2025-06-01T00:00:00Z&end=2025-06-10T00:00:00Z", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got []types.DailyProduction
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, 19.5, got[0].KWH)
		d.db.AssertExpectations(t)
	})
}
