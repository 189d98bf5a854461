package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForecastResult(t *testing.T) {
	t.Run("Clamps Out Of Range Values", func(t *testing.T) {
		r := NewForecastResult(-3, -0.1, 140, -5, MethodRuleBased, true)
		assert.Equal(t, 0.0, r.Today)
		assert.Equal(t, 0.0, r.Tomorrow)
		assert.Equal(t, 100.0, r.ConfidenceToday)
		assert.Equal(t, 0.0, r.ConfidenceTomorrow)
	})

	t.Run("Non Finite Values Become Zero", func(t *testing.T) {
		r := NewForecastResult(math.NaN(), math.Inf(1), math.NaN(), 50, MethodML, true)
		assert.Equal(t, 0.0, r.Today)
		assert.Equal(t, 0.0, r.Tomorrow)
		assert.Equal(t, 0.0, r.ConfidenceToday)
		assert.Equal(t, 50.0, r.ConfidenceTomorrow)
	})

	t.Run("Clamping Is Idempotent", func(t *testing.T) {
		for _, in := range [][4]float64{
			{-1, 2, 101, 50},
			{12.5, 9.1, 85, 76.5},
			{0, 0, 0, 0},
		} {
			r := NewForecastResult(in[0], in[1], in[2], in[3], MethodRuleBased, false)
			assert.Equal(t, r, r.Clamped())
		}
	})

	t.Run("Metadata Only When Supplied", func(t *testing.T) {
		r := NewForecastResult(1, 1, 50, 50, MethodRuleBased, true)
		assert.Nil(t, r.BaseCapacity)
		assert.Nil(t, r.CorrectionFactor)
		assert.Nil(t, r.FeaturesUsed)
		assert.Nil(t, r.ModelAccuracy)

		r = NewForecastResult(1, 1, 50, 50, MethodML, true,
			WithBaseCapacity(5),
			WithFeaturesUsed(18),
			WithModelAccuracy(1.4),
		)
		require.NotNil(t, r.BaseCapacity)
		assert.Equal(t, 5.0, *r.BaseCapacity)
		require.NotNil(t, r.FeaturesUsed)
		assert.Equal(t, 18, *r.FeaturesUsed)
		require.NotNil(t, r.ModelAccuracy)
		assert.Equal(t, 1.0, *r.ModelAccuracy)
	})
}

func TestLocalTimestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	t.Run("Structured", func(t *testing.T) {
		ts := At(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
		got, err := ts.Resolve(berlin)
		require.NoError(t, err)
		assert.Equal(t, 12, got.Hour())
	})

	t.Run("Raw With Offset", func(t *testing.T) {
		got, err := LocalTimestamp{Raw: "2025-06-01T10:00:00+00:00"}.Resolve(berlin)
		require.NoError(t, err)
		assert.Equal(t, 12, got.Hour())
	})

	t.Run("Raw Without Offset Is Local", func(t *testing.T) {
		got, err := LocalTimestamp{Raw: "2025-06-01T10:00"}.Resolve(berlin)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Hour())
		assert.Equal(t, berlin, got.Location())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LocalTimestamp{}.Resolve(berlin)
		assert.ErrorIs(t, err, ErrMissingTimestamp)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := LocalTimestamp{Raw: "yesterday-ish"}.Resolve(berlin)
		assert.ErrorContains(t, err, "unparseable")
	})

	t.Run("JSON Keeps Raw String", func(t *testing.T) {
		var w HourlyWeather
		require.NoError(t, json.Unmarshal([]byte(`{"localDatetime":"2025-06-01T13:00","temperature":21.5}`), &w))
		assert.Equal(t, "2025-06-01T13:00", w.LocalDatetime.Raw)
		v, ok := Value(w.Temperature)
		assert.True(t, ok)
		assert.Equal(t, 21.5, v)
		_, ok = Value(w.CloudCover)
		assert.False(t, ok)
	})
}

func TestHourlyProfile(t *testing.T) {
	p := DefaultHourlyProfile()
	assert.Len(t, p.HourlyAverages, 24)
	for h := 0; h < 24; h++ {
		assert.GreaterOrEqual(t, p.HourlyAverages[HourKey(h)], 0.0)
	}
	assert.Equal(t, 0.0, p.HourlyAverages["3"])
	peak, ok := p.PeakHour()
	assert.True(t, ok)
	assert.Equal(t, 12, peak)

	_, ok = HourlyProfile{}.PeakHour()
	assert.False(t, ok)
}

func TestDailyProductions(t *testing.T) {
	d := FromDailyProductions([]DailyProduction{{Date: "2025-06-01", KWH: 21.3}})
	v, ok := d.DailyProduction("2025-06-01")
	assert.True(t, ok)
	assert.Equal(t, 21.3, v)
	_, ok = d.DailyProduction("2025-06-02")
	assert.False(t, ok)

	var empty DailyProductions
	_, ok = empty.DailyProduction("2025-06-01")
	assert.False(t, ok)
}
