package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMissingTimestamp is returned when an hourly record has no usable time.
var ErrMissingTimestamp = errors.New("missing local timestamp")

// localLayouts are tried, in order, for timestamps without a zone offset.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// LocalTimestamp is either an already structured time or the raw ISO-8601
// string received from the weather provider. Raw strings are parsed on read.
type LocalTimestamp struct {
	Time time.Time
	Raw  string
}

// At returns a structured LocalTimestamp.
func At(t time.Time) LocalTimestamp {
	return LocalTimestamp{Time: t}
}

// Resolve returns the timestamp in loc. Raw strings with an offset keep their
// instant, strings without one are interpreted in loc.
func (l LocalTimestamp) Resolve(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if !l.Time.IsZero() {
		return l.Time.In(loc), nil
	}
	if l.Raw == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	if t, err := time.Parse(time.RFC3339, l.Raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, l.Raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable local timestamp %q", l.Raw)
}

// MarshalJSON writes the structured time if present, the raw string otherwise.
func (l LocalTimestamp) MarshalJSON() ([]byte, error) {
	if !l.Time.IsZero() {
		return json.Marshal(l.Time.Format(time.RFC3339))
	}
	return json.Marshal(l.Raw)
}

// UnmarshalJSON keeps the raw string, parsing happens in Resolve.
func (l *LocalTimestamp) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("local timestamp must be a string: %w", err)
	}
	*l = LocalTimestamp{Raw: raw}
	return nil
}

// HourlyWeather is one hour of the weather forecast sequence. Missing values
// are nil.
type HourlyWeather struct {
	LocalDatetime LocalTimestamp `json:"localDatetime"`
	Temperature   *float64       `json:"temperature,omitempty"`
	CloudCover    *float64       `json:"cloudCover,omitempty"`
	Humidity      *float64       `json:"humidity,omitempty"`
	WindSpeed     *float64       `json:"windSpeed,omitempty"`
	Precipitation *float64       `json:"precipitation,omitempty"`
	Condition     string         `json:"condition,omitempty"`
}

// Value returns the pointed-to value, treating nil and non-finite values as
// missing.
func Value(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
