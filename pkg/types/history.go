package types

import "time"

const (
	CurrentDailyProductionVersion = 1
	CurrentHourlySampleVersion    = 2

	// DateFormat is the key format for daily records.
	DateFormat = "2006-01-02"

	// LagProductionYesterday is the lag feature holding yesterday's total.
	LagProductionYesterday = "production_yesterday"
)

// LagFeatures carries values from previous periods into the model.
type LagFeatures map[string]float64

// Clone returns an independent copy of the features.
func (l LagFeatures) Clone() LagFeatures {
	c := make(LagFeatures, len(l))
	for k, v := range l {
		c[k] = v
	}
	return c
}

// DailyProduction is the energy produced on one local date.
type DailyProduction struct {
	Date      string    `json:"date"`
	KWH       float64   `json:"kwh"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DailyProductions maps ISO dates to daily totals (kWh).
type DailyProductions map[string]float64

// DailyProduction returns the total for date if one was recorded.
func (d DailyProductions) DailyProduction(date string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	v, ok := d[date]
	return v, ok
}

// FromDailyProductions indexes a list of records by date.
func FromDailyProductions(records []DailyProduction) DailyProductions {
	d := make(DailyProductions, len(records))
	for _, r := range records {
		d[r.Date] = r.KWH
	}
	return d
}

// HourlySample is one observed hour used to train the model.
type HourlySample struct {
	// TSHourStart is the start of the hour in the site's local time.
	TSHourStart         time.Time     `json:"tsHourStart"`
	Weather             HourlyWeather `json:"weather"`
	ActualKWH           float64       `json:"actualKWH"`
	ProductionYesterday float64       `json:"productionYesterday"`
}
