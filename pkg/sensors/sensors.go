package sensors

import (
	"context"

	"github.com/raterudder/pvforecast/pkg/types"
)

// Source supplies the live readings of the site.
type Source interface {
	// Readings returns the current sensor values. Sensors that are not
	// configured or have no value are left nil.
	Readings(ctx context.Context) (types.SensorData, error)

	// SunState returns the solar almanac attributes.
	SunState(ctx context.Context) (types.SunState, error)
}

// Configured returns the flag-configured sensor source.
func Configured() Source {
	return configuredHomeAssistant()
}
