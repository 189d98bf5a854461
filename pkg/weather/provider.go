package weather

import (
	"context"

	"github.com/raterudder/pvforecast/pkg/types"
)

// Provider supplies the hourly weather forecast and the current conditions
// for a site.
type Provider interface {
	// HourlyForecast returns hourly records covering at least today and
	// tomorrow in the site's time zone.
	HourlyForecast(ctx context.Context, settings types.Settings) ([]types.HourlyWeather, error)

	// Current returns the latest observed conditions.
	Current(ctx context.Context, settings types.Settings) (types.HourlyWeather, error)
}

// Configured returns the flag-configured weather provider.
func Configured() Provider {
	return configuredOpenMeteo()
}
