package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
)

// maxHistoryRange bounds history queries.
const maxHistoryRange = 31 * 24 * time.Hour

func (s *Server) handleHistoryForecasts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.storage.GetForecastHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get forecasts", slog.Any("error", err))
		writeJSONError(w, "failed to get forecasts", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.ForecastRecord{}
	}

	s.setHistoryCache(w, end)
	writeJSON(w, records)
}

func (s *Server) handleHistoryProduction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	loc := settings.Location()

	production, err := s.storage.GetDailyProductions(
		ctx,
		start.In(loc).Format(types.DateFormat),
		end.In(loc).Format(types.DateFormat),
	)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get production", slog.Any("error", err))
		writeJSONError(w, "failed to get production", http.StatusInternalServerError)
		return
	}
	if production == nil {
		production = []types.DailyProduction{}
	}

	s.setHistoryCache(w, end)
	writeJSON(w, production)
}

// setHistoryCache caches ranges that ended before today for a day and
// anything else for a minute.
func (s *Server) setHistoryCache(w http.ResponseWriter, end time.Time) {
	today := s.now().Truncate(24 * time.Hour)
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}

func (s *Server) parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		// Default to the last 7 days if not specified
		end := s.now()
		start := end.Add(-7 * 24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > maxHistoryRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 31 days")
	}

	return start, end, nil
}
