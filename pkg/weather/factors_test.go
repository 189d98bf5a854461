package weather

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperatureFactor(t *testing.T) {
	c := NewCalculator()

	t.Run("Documented Points", func(t *testing.T) {
		assert.Equal(t, 0.9, c.TemperatureFactor(nil))
		assert.Equal(t, 0.85, c.TemperatureFactor(types.Ptr(-10.0)))
		assert.InDelta(t, 0.85, c.TemperatureFactor(types.Ptr(0.0)), 1e-9)
		assert.InDelta(t, 0.97, c.TemperatureFactor(types.Ptr(20.0)), 1e-9)
		assert.InDelta(t, 1.0, c.TemperatureFactor(types.Ptr(25.0)), 1e-9)
		assert.InDelta(t, 0.96, c.TemperatureFactor(types.Ptr(35.0)), 1e-9)
		assert.Equal(t, 0.70, c.TemperatureFactor(types.Ptr(200.0)))
	})

	t.Run("Always In Range", func(t *testing.T) {
		for temp := -60.0; temp <= 120; temp += 0.5 {
			f := c.TemperatureFactor(types.Ptr(temp))
			assert.GreaterOrEqual(t, f, 0.70, "temp %v", temp)
			assert.LessOrEqual(t, f, 1.0, "temp %v", temp)
		}
	})

	t.Run("NaN Is Missing", func(t *testing.T) {
		assert.Equal(t, 0.9, c.TemperatureFactor(types.Ptr(math.NaN())))
	})
}

func TestCloudFactor(t *testing.T) {
	c := NewCalculator()

	t.Run("Bands", func(t *testing.T) {
		assert.Equal(t, 1.0, c.CloudFactor(types.Ptr(0.0)))
		assert.Equal(t, 0.9, c.CloudFactor(types.Ptr(10.0)))
		assert.Equal(t, 0.65, c.CloudFactor(types.Ptr(30.0)))
		assert.Equal(t, 0.35, c.CloudFactor(types.Ptr(60.0)))
		assert.Equal(t, 0.15, c.CloudFactor(types.Ptr(90.0)))
		assert.Equal(t, 0.6, c.CloudFactor(nil))
	})

	t.Run("Out Of Range Is Clamped", func(t *testing.T) {
		assert.Equal(t, 1.0, c.CloudFactor(types.Ptr(-20.0)))
		assert.Equal(t, 0.15, c.CloudFactor(types.Ptr(150.0)))
	})

	t.Run("Monotonic And In Set", func(t *testing.T) {
		allowed := map[float64]bool{1.0: true, 0.9: true, 0.65: true, 0.35: true, 0.15: true}
		prev := math.Inf(1)
		for p := 0.0; p <= 100; p += 0.25 {
			f := c.CloudFactor(types.Ptr(p))
			assert.True(t, allowed[f], "unexpected factor %v for %v%%", f, p)
			assert.LessOrEqual(t, f, prev, "factor increased at %v%%", p)
			prev = f
		}
	})
}

func TestConditionFactor(t *testing.T) {
	c := NewCalculator()
	assert.Equal(t, 0.40, c.ConditionFactor("rainy"))
	assert.Equal(t, 0.40, c.ConditionFactor("Rainy"))
	assert.Equal(t, 0.20, c.ConditionFactor("pouring"))
	assert.Equal(t, 0.45, c.ConditionFactor("fog"))
	assert.Equal(t, 1.0, c.ConditionFactor("sunny"))
	assert.Equal(t, 1.0, c.ConditionFactor(""))
	assert.Equal(t, 1.0, c.ConditionFactor("volcanic-ash"))
}

func TestSeasonalFactor(t *testing.T) {
	c := NewCalculator()
	date := func(m time.Month) time.Time {
		return time.Date(2025, m, 15, 12, 0, 0, 0, time.UTC)
	}

	assert.InDelta(t, 0.2975, c.SeasonalFactor(date(time.January)), 1e-9)
	assert.InDelta(t, 0.35, c.SeasonalFactor(date(time.February)), 1e-9)
	assert.InDelta(t, 0.75, c.SeasonalFactor(date(time.April)), 1e-9)
	assert.InDelta(t, 1.05, c.SeasonalFactor(date(time.June)), 1e-9)
	assert.InDelta(t, 1.0, c.SeasonalFactor(date(time.August)), 1e-9)
	assert.InDelta(t, 0.65, c.SeasonalFactor(date(time.October)), 1e-9)
	assert.InDelta(t, 0.2975, c.SeasonalFactor(date(time.December)), 1e-9)

	for m := time.January; m <= time.December; m++ {
		f := c.SeasonalFactor(date(m))
		assert.GreaterOrEqual(t, f, 0.2)
		assert.LessOrEqual(t, f, 1.2)
	}
}

func TestCombinedFactor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	c := NewCalculator(WithLocation(time.UTC), WithClock(func() time.Time { return now }))

	t.Run("Product Without Seasonal", func(t *testing.T) {
		rec := types.HourlyWeather{
			Temperature: types.Ptr(25.0),
			CloudCover:  types.Ptr(20.0),
			Condition:   "rainy",
		}
		assert.InDelta(t, 1.0*0.9*0.40, c.CombinedFactor(ctx, rec, false), 1e-9)
	})

	t.Run("Seasonal Uses Record Date", func(t *testing.T) {
		rec := types.HourlyWeather{
			LocalDatetime: types.LocalTimestamp{Raw: "2025-06-20T12:00"},
			Temperature:   types.Ptr(25.0),
			CloudCover:    types.Ptr(0.0),
		}
		assert.InDelta(t, 1.05, c.CombinedFactor(ctx, rec, true), 1e-9)
	})

	t.Run("Seasonal Falls Back To Clock", func(t *testing.T) {
		rec := types.HourlyWeather{
			LocalDatetime: types.LocalTimestamp{Raw: "not a time"},
			Temperature:   types.Ptr(25.0),
			CloudCover:    types.Ptr(0.0),
		}
		assert.InDelta(t, 0.2975, c.CombinedFactor(ctx, rec, true), 1e-9)
	})

	t.Run("Missing Everything Uses Defaults", func(t *testing.T) {
		assert.InDelta(t, 0.9*0.6, c.CombinedFactor(ctx, types.HourlyWeather{}, false), 1e-9)
	})

	t.Run("Panic Falls Back And Logs Through Context", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := log.Component(log.With(ctx, slog.New(slog.NewJSONHandler(&buf, nil))), "rule_based")
		rec := types.HourlyWeather{LocalDatetime: types.LocalTimestamp{Raw: "not a time"}}

		// a zero Calculator has no clock to fall back to
		assert.Equal(t, FallbackCombinedFactor, (&Calculator{}).CombinedFactor(ctx, rec, true))

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "combined weather factor failed", record["msg"])
		assert.Equal(t, "WARN", record["level"])
		assert.Equal(t, "rule_based", record["component"])
	})
}
