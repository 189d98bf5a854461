package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

const (
	// DefaultSolarCapacityKWP is used until the site configures its capacity.
	DefaultSolarCapacityKWP = 5.0

	MinSolarCapacityKWP = 0.1
	MaxSolarCapacityKWP = 1000.0

	MinCorrectionFactor = 0.5
	MaxCorrectionFactor = 1.5
)

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Pause updates
	Pause bool `json:"pause"`

	// Installation
	SolarCapacityKWP float64 `json:"solarCapacityKWP" validate:"gte=0.1,lte=1000"`
	// Inverter/array peak output. 0 means unknown.
	PeakPowerKW float64 `json:"peakPowerKW" validate:"gte=0,lte=1000"`

	// Location used for the weather forecast
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Timezone  string  `json:"timezone" validate:"required,timezone"`

	// Correction factor applied by the rule based strategy.
	CorrectionFactor float64 `json:"correctionFactor" validate:"gte=0.5,lte=1.5"`
	// Learn the correction factor from the evening verification.
	LearnCorrectionFactor bool `json:"learnCorrectionFactor"`

	// Use the trained model when it is healthy.
	MLEnabled bool `json:"mlEnabled"`
}

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings against their documented ranges.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Location returns the site's time zone, falling back to UTC.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.SolarCapacityKWP == 0 {
				s.SolarCapacityKWP = DefaultSolarCapacityKWP
				migrated = true
			}
			if s.CorrectionFactor == 0 {
				s.CorrectionFactor = 1.0
				migrated = true
			}
		case 2:
			// version 2: time zone for local hour bucketing
			if s.Timezone == "" {
				s.Timezone = "UTC"
				migrated = true
			}
		case 3:
			// version 3: learned correction and the model are on by default
			if !s.LearnCorrectionFactor {
				s.LearnCorrectionFactor = true
				migrated = true
			}
			if !s.MLEnabled {
				s.MLEnabled = true
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
