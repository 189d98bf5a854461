package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raterudder/pvforecast/pkg/common"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openMeteoFixture = `{
  "timezone": "Europe/Berlin",
  "hourly": {
    "time": ["2025-06-01T11:00", "2025-06-01T12:00", "2025-06-01T13:00"],
    "temperature_2m": [21.5, 22.0, null],
    "relative_humidity_2m": [55, 50, 48],
    "cloud_cover": [10, 85, 100],
    "wind_speed_10m": [3.2, 4.1, 5.0],
    "precipitation": [0, 0.4, 2.1],
    "weather_code": [1, 61, 65]
  },
  "current": {
    "time": "2025-06-01T11:45",
    "temperature_2m": 21.9,
    "relative_humidity_2m": 53,
    "cloud_cover": 40,
    "wind_speed_10m": 3.6,
    "precipitation": 0,
    "weather_code": 2
  }
}`

func TestOpenMeteo(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Europe/Berlin", r.URL.Query().Get("timezone"))
		assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))
		assert.Equal(t, "2", r.URL.Query().Get("forecast_days"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openMeteoFixture))
	}))
	defer server.Close()

	o := NewOpenMeteo(server.URL, common.NewClient("open-meteo", time.Second))
	o.cacheTTL = time.Minute
	settings := types.Settings{Latitude: 52.52, Longitude: 13.405, Timezone: "Europe/Berlin"}
	ctx := context.Background()

	t.Run("Hourly Forecast", func(t *testing.T) {
		records, err := o.HourlyForecast(ctx, settings)
		require.NoError(t, err)
		require.Len(t, records, 3)

		assert.Equal(t, "2025-06-01T11:00", records[0].LocalDatetime.Raw)
		require.NotNil(t, records[0].Temperature)
		assert.Equal(t, 21.5, *records[0].Temperature)
		assert.Equal(t, "partlycloudy", records[0].Condition)
		assert.Equal(t, "rainy", records[1].Condition)
		assert.Nil(t, records[2].Temperature)
		assert.Equal(t, "pouring", records[2].Condition)

		ts, err := records[1].LocalDatetime.Resolve(settings.Location())
		require.NoError(t, err)
		assert.Equal(t, 12, ts.Hour())
	})

	t.Run("Current Uses Cache", func(t *testing.T) {
		cur, err := o.Current(ctx, settings)
		require.NoError(t, err)
		require.NotNil(t, cur.CloudCover)
		assert.Equal(t, 40.0, *cur.CloudCover)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Upstream Error", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer bad.Close()

		o := NewOpenMeteo(bad.URL, common.NewClient("open-meteo", time.Second))
		_, err := o.HourlyForecast(ctx, settings)
		var statusErr *common.StatusError
		assert.ErrorAs(t, err, &statusErr)
	})
}

func TestConditionFromWMO(t *testing.T) {
	assert.Equal(t, "sunny", ConditionFromWMO(0))
	assert.Equal(t, "fog", ConditionFromWMO(45))
	assert.Equal(t, "snowy", ConditionFromWMO(73))
	assert.Equal(t, "hail", ConditionFromWMO(99))
	assert.Equal(t, "exceptional", ConditionFromWMO(42))
}
