package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/forecast"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
	"github.com/raterudder/pvforecast/pkg/weather"
	"golang.org/x/sync/errgroup"
)

// orchestrator assembles the strategies for the site described by settings.
// The model only takes part when it is enabled.
func (s *Server) orchestrator(settings types.Settings, history forecast.HistoryCache) *forecast.Orchestrator {
	loc := settings.Location()
	opts := []forecast.Option{
		forecast.WithLocation(loc),
		forecast.WithClock(s.now),
		forecast.WithDefaultCapacity(settings.SolarCapacityKWP),
	}
	calc := weather.NewCalculator(weather.WithLocation(loc), weather.WithClock(s.now))
	cfg := forecast.OrchestratorConfig{
		RuleBased:  forecast.NewRuleBased(calc, opts...),
		History:    history,
		Calculator: calc,
	}
	if s.sensors != nil {
		cfg.Almanac = s.sensors
	}
	if settings.MLEnabled && s.predictor != nil {
		s.predictor.SetLocation(loc)
		s.predictor.SetPeakPowerKW(settings.PeakPowerKW)
		cfg.ML = forecast.NewML(s.predictor, s.errors, opts...)
		cfg.Predictor = s.predictor
	}
	return forecast.NewOrchestrator(cfg, opts...)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.storage.GetLatestForecast(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, "no forecast yet", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get forecast", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, rec)
}

// NextHourRes is the response of GET /api/forecast/nexthour.
type NextHourRes struct {
	HourStart     time.Time `json:"hourStart"`
	KWH           float64   `json:"kwh"`
	ForecastToday float64   `json:"forecastToday"`
	ForecastID    string    `json:"forecastID"`
}

func (s *Server) handleNextHour(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	now := s.now().In(settings.Location())

	rec, err := s.storage.GetLatestForecast(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get forecast", http.StatusInternalServerError)
		return
	}
	if err != nil || rec.Date != now.Format(types.DateFormat) {
		writeJSONError(w, "no forecast for today", http.StatusNotFound)
		return
	}

	// both inputs are optional, the adjustment falls back to neutral factors
	var (
		current  *types.HourlyWeather
		readings types.SensorData
	)
	var g errgroup.Group
	g.Go(func() error {
		cw, err := s.weather.Current(ctx, settings)
		if err != nil {
			s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryWeatherAPI, err), "next_hour")
			return nil
		}
		current = &cw
		return nil
	})
	g.Go(func() error {
		rd, err := s.sensors.Readings(ctx)
		if err != nil {
			s.errors.HandleError(ctx, err, "next_hour")
			return nil
		}
		readings = rd
		return nil
	})
	_ = g.Wait()

	kwh := s.orchestrator(settings, nil).CalculateNextHourPrediction(ctx, rec.Forecast.Today, current, readings)
	s.metrics.ObserveNextHour(kwh)

	writeJSON(w, NextHourRes{
		HourStart:     now.Truncate(time.Hour).Add(time.Hour),
		KWH:           kwh,
		ForecastToday: rec.Forecast.Today,
		ForecastID:    rec.ID,
	})
}
