package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
	"golang.org/x/sync/errgroup"
)

// historyDays is how many days of daily production are loaded for the lag
// features.
const historyDays = 7

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "update: paused")
		// We return 200 OK so the scheduler doesn't think it failed
		writeJSON(w, map[string]interface{}{
			"status": "paused",
		})
		return
	}

	rec, err := s.runUpdate(ctx, settings)
	if err != nil {
		s.errors.HandleError(ctx, err, "update")
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":   "success",
		"forecast": rec,
	})
}

// runUpdate fetches the inputs concurrently, creates the blended forecast and
// persists it along with today's production so far.
func (s *Server) runUpdate(ctx context.Context, settings types.Settings) (types.ForecastRecord, error) {
	now := s.now().In(settings.Location())
	today := now.Format(types.DateFormat)

	var (
		hourly   []types.HourlyWeather
		readings types.SensorData
		history  []types.DailyProduction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hourly, err = s.weather.HourlyForecast(gctx, settings)
		if err != nil {
			return fmt.Errorf("failed to fetch weather forecast: %w", errorhandler.Wrap(errorhandler.CategoryWeatherAPI, err))
		}
		return nil
	})
	g.Go(func() error {
		rd, err := s.sensors.Readings(gctx)
		if err != nil {
			// live sensors only refine the forecast
			s.errors.HandleError(gctx, err, "sensors")
			return nil
		}
		readings = rd
		return nil
	})
	g.Go(func() error {
		start := now.AddDate(0, 0, -historyDays).Format(types.DateFormat)
		h, err := s.storage.GetDailyProductions(gctx, start, today)
		if err != nil {
			s.errors.HandleError(gctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "history")
			return nil
		}
		history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.ForecastRecord{}, err
	}
	log.Ctx(ctx).DebugContext(ctx, "update: inputs fetched", slog.Int("hours", len(hourly)), slog.Int("historyDays", len(history)))

	f := s.orchestrator(settings, types.FromDailyProductions(history)).
		CreateForecast(ctx, hourly, readings, settings.CorrectionFactor)

	rec := types.ForecastRecord{
		ID:               uuid.NewString(),
		CreatedAt:        s.now(),
		Date:             today,
		Forecast:         f,
		CorrectionFactor: settings.CorrectionFactor,
		HoursUsed:        len(hourly),
	}
	if err := s.storage.InsertForecast(ctx, rec); err != nil {
		return types.ForecastRecord{}, fmt.Errorf("failed to insert forecast: %w", errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err))
	}

	if yield, ok := types.Value(readings.CurrentYield); ok && yield >= 0 {
		p := types.DailyProduction{Date: today, KWH: yield, UpdatedAt: s.now()}
		if err := s.storage.UpsertDailyProduction(ctx, p, types.CurrentDailyProductionVersion); err != nil {
			s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "update")
		}
	}

	s.metrics.ObserveForecast(f)
	log.Ctx(ctx).InfoContext(
		ctx,
		"update: forecast created",
		slog.String("id", rec.ID),
		slog.Float64("today", f.Today),
		slog.Float64("tomorrow", f.Tomorrow),
		slog.Float64("confidence", f.Confidence),
		slog.String("method", f.Method),
	)
	return rec, nil
}
