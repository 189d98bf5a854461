package ml

import (
	"fmt"
	"math"
	"time"

	"github.com/raterudder/pvforecast/pkg/types"
)

const (
	defaultTemperatureC = 15.0
	defaultHumidityPct  = 60.0
	defaultCloudPct     = 50.0
	defaultWindSpeedMS  = 5.0

	// summer solstice
	peakDayOfYear = 172
)

var baseFeatureNames = []string{
	"temperature",
	"humidity",
	"cloudiness",
	"wind_speed",
	"hour_of_day",
	"seasonal_factor",
	"weather_trend",
	types.LagProductionYesterday,
}

var squaredFeatureNames = []string{
	"temperature",
	"cloudiness",
	"hour_of_day",
	"seasonal_factor",
}

var interactionFeatures = []struct {
	name string
	a, b string
}{
	{"cloudiness_x_hour", "cloudiness", "hour_of_day"},
	{"temperature_x_seasonal", "temperature", "seasonal_factor"},
	{"humidity_x_cloudiness", "humidity", "cloudiness"},
	{"wind_x_hour", "wind_speed", "hour_of_day"},
	{"weather_trend_x_seasonal", "weather_trend", "seasonal_factor"},
}

// FeatureEngineer turns an hour of weather into the model's feature vector.
type FeatureEngineer struct {
	names []string
	index map[string]int
}

// NewFeatureEngineer returns a FeatureEngineer.
func NewFeatureEngineer() *FeatureEngineer {
	f := &FeatureEngineer{
		index: make(map[string]int, len(baseFeatureNames)),
	}
	f.names = append(f.names, baseFeatureNames...)
	for i, name := range baseFeatureNames {
		f.index[name] = i
	}
	for _, name := range squaredFeatureNames {
		f.names = append(f.names, name+"_sq")
	}
	for _, in := range interactionFeatures {
		f.names = append(f.names, in.name)
	}
	return f
}

// Names returns the feature names in vector order.
func (f *FeatureEngineer) Names() []string {
	return append([]string(nil), f.names...)
}

// SeasonalFactor is a cosine over the year peaking at the summer solstice,
// in [0,1].
func SeasonalFactor(date time.Time) float64 {
	return 0.5 + 0.5*math.Cos(float64(date.YearDay()-peakDayOfYear)*2*math.Pi/365)
}

// WeatherTrend scores how favorable the weather is from the cloud cover (%)
// and the wind speed (m/s), in [0,1].
func WeatherTrend(cloudPct, windMS float64) float64 {
	clear := (100 - math.Max(0, math.Min(100, cloudPct))) / 100
	calm := 1 - math.Min(math.Max(0, windMS)/30, 1)
	return clear*0.7 + calm*0.3
}

func valueOr(p *float64, def float64) float64 {
	if v, ok := types.Value(p); ok {
		return v
	}
	return def
}

// Extract builds the feature vector for hour of date.
func (f *FeatureEngineer) Extract(rec types.HourlyWeather, lag types.LagFeatures, hour int, date time.Time) ([]float64, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid hour: %d", hour)
	}
	temperature := valueOr(rec.Temperature, defaultTemperatureC)
	humidity := valueOr(rec.Humidity, defaultHumidityPct)
	cloudiness := valueOr(rec.CloudCover, defaultCloudPct)
	wind := valueOr(rec.WindSpeed, defaultWindSpeedMS)
	seasonal := SeasonalFactor(date)

	base := []float64{
		temperature,
		humidity,
		cloudiness,
		wind,
		float64(hour),
		seasonal,
		WeatherTrend(cloudiness, wind),
		lag[types.LagProductionYesterday],
	}

	out := make([]float64, 0, len(f.names))
	out = append(out, base...)
	for _, name := range squaredFeatureNames {
		v := base[f.index[name]]
		out = append(out, v*v)
	}
	for _, in := range interactionFeatures {
		out = append(out, base[f.index[in.a]]*base[f.index[in.b]])
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite feature %s", f.names[i])
		}
	}
	return out, nil
}
