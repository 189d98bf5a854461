package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/common"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

const openMeteoVariables = "temperature_2m,relative_humidity_2m,cloud_cover,wind_speed_10m,precipitation,weather_code"

// OpenMeteo implements Provider using the Open-Meteo forecast API.
type OpenMeteo struct {
	apiURL   string
	cacheTTL time.Duration
	client   *common.Client
	now      func() time.Time

	mu        sync.Mutex
	cacheKey  string
	fetchedAt time.Time
	cached    openMeteoResponse
}

// configuredOpenMeteo sets up flags for Open-Meteo and returns the instance.
func configuredOpenMeteo() *OpenMeteo {
	o := &OpenMeteo{
		now: time.Now,
	}
	apiURL := lflag.String("openmeteo-url", "https://api.open-meteo.com/v1/forecast", "URL for the Open-Meteo forecast API")
	timeout := lflag.Duration("weather-timeout", 10*time.Second, "Timeout for weather requests")
	cacheTTL := lflag.Duration("weather-cache-ttl", 15*time.Minute, "How long to reuse a fetched weather forecast")

	lflag.Do(func() {
		o.apiURL = *apiURL
		o.cacheTTL = *cacheTTL
		o.client = common.NewClient("open-meteo", *timeout)
		if err := o.Validate(); err != nil {
			panic(fmt.Sprintf("open-meteo validation failed: %v", err))
		}
	})

	return o
}

// NewOpenMeteo returns an OpenMeteo talking to apiURL.
func NewOpenMeteo(apiURL string, client *common.Client) *OpenMeteo {
	return &OpenMeteo{
		apiURL: apiURL,
		client: client,
		now:    time.Now,
	}
}

// Validate ensures the configuration is valid.
func (o *OpenMeteo) Validate() error {
	if o.apiURL == "" {
		return fmt.Errorf("openmeteo-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse open-meteo url (%s): %w", o.apiURL, err)
	}
	return nil
}

type openMeteoValues struct {
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	CloudCover    []*float64 `json:"cloud_cover"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	Precipitation []*float64 `json:"precipitation"`
	WeatherCode   []*int     `json:"weather_code"`
}

type openMeteoCurrent struct {
	Time          string   `json:"time"`
	Temperature   *float64 `json:"temperature_2m"`
	Humidity      *float64 `json:"relative_humidity_2m"`
	CloudCover    *float64 `json:"cloud_cover"`
	WindSpeed     *float64 `json:"wind_speed_10m"`
	Precipitation *float64 `json:"precipitation"`
	WeatherCode   *int     `json:"weather_code"`
}

type openMeteoResponse struct {
	Timezone string `json:"timezone"`
	Hourly   struct {
		Time []string `json:"time"`
		openMeteoValues
	} `json:"hourly"`
	Current openMeteoCurrent `json:"current"`
}

func (o *OpenMeteo) fetch(ctx context.Context, settings types.Settings) (openMeteoResponse, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(settings.Latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(settings.Longitude, 'f', 4, 64))
	q.Set("hourly", openMeteoVariables)
	q.Set("current", openMeteoVariables)
	q.Set("timezone", settings.Location().String())
	q.Set("forecast_days", "2")
	q.Set("wind_speed_unit", "ms")
	key := q.Encode()

	now := o.now()
	o.mu.Lock()
	if o.cacheKey == key && o.cacheTTL > 0 && now.Sub(o.fetchedAt) < o.cacheTTL {
		cached := o.cached
		o.mu.Unlock()
		return cached, nil
	}
	o.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "fetching open-meteo forecast", slog.String("timezone", settings.Location().String()))

	var resp openMeteoResponse
	if err := o.client.GetJSON(ctx, o.apiURL+"?"+key, nil, &resp); err != nil {
		return openMeteoResponse{}, err
	}

	o.mu.Lock()
	o.cacheKey = key
	o.fetchedAt = now
	o.cached = resp
	o.mu.Unlock()

	return resp, nil
}

// HourlyForecast implements Provider.
func (o *OpenMeteo) HourlyForecast(ctx context.Context, settings types.Settings) ([]types.HourlyWeather, error) {
	resp, err := o.fetch(ctx, settings)
	if err != nil {
		return nil, err
	}
	h := resp.Hourly
	records := make([]types.HourlyWeather, 0, len(h.Time))
	for i, ts := range h.Time {
		rec := types.HourlyWeather{
			LocalDatetime: types.LocalTimestamp{Raw: ts},
			Temperature:   at(h.Temperature, i),
			Humidity:      at(h.Humidity, i),
			CloudCover:    at(h.CloudCover, i),
			WindSpeed:     at(h.WindSpeed, i),
			Precipitation: at(h.Precipitation, i),
		}
		if code := at(h.WeatherCode, i); code != nil {
			rec.Condition = ConditionFromWMO(*code)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Current implements Provider.
func (o *OpenMeteo) Current(ctx context.Context, settings types.Settings) (types.HourlyWeather, error) {
	resp, err := o.fetch(ctx, settings)
	if err != nil {
		return types.HourlyWeather{}, err
	}
	c := resp.Current
	rec := types.HourlyWeather{
		LocalDatetime: types.LocalTimestamp{Raw: c.Time},
		Temperature:   c.Temperature,
		Humidity:      c.Humidity,
		CloudCover:    c.CloudCover,
		WindSpeed:     c.WindSpeed,
		Precipitation: c.Precipitation,
	}
	if c.WeatherCode != nil {
		rec.Condition = ConditionFromWMO(*c.WeatherCode)
	}
	return rec, nil
}

func at[T any](vals []*T, i int) *T {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

// ConditionFromWMO maps a WMO weather interpretation code onto the condition
// names used by ConditionFactor.
func ConditionFromWMO(code int) string {
	switch code {
	case 0:
		return "sunny"
	case 1, 2:
		return "partlycloudy"
	case 3:
		return "cloudy"
	case 45, 48:
		return "fog"
	case 51, 53, 55, 56, 57, 61, 63, 80, 81:
		return "rainy"
	case 65, 82:
		return "pouring"
	case 66, 67:
		return "snowy-rainy"
	case 71, 73, 75, 77, 85, 86:
		return "snowy"
	case 95:
		return "lightning-rainy"
	case 96, 99:
		return "hail"
	default:
		return "exceptional"
	}
}
