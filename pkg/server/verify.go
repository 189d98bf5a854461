package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/forecast"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
)

// VerifyRes is the response of POST /api/verify.
type VerifyRes struct {
	Date              string  `json:"date"`
	PredictedKWH      float64 `json:"predictedKWH"`
	ActualKWH         float64 `json:"actualKWH"`
	Accuracy          float64 `json:"accuracy"`
	CorrectionFactor  float64 `json:"correctionFactor"`
	CorrectionUpdated bool    `json:"correctionUpdated"`
}

// handleVerify compares today's forecast with the production so far. It is
// meant to run in the evening after production has ended.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	today := s.now().In(settings.Location()).Format(types.DateFormat)

	rec, err := s.storage.GetLatestForecast(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get forecast", http.StatusInternalServerError)
		return
	}
	if err != nil || rec.Date != today {
		writeJSONError(w, "no forecast for today", http.StatusNotFound)
		return
	}

	actual, ok := s.actualProduction(r, today)
	if !ok {
		writeJSONError(w, "no production recorded for today", http.StatusConflict)
		return
	}

	predicted := rec.Forecast.Today
	accuracy := forecast.VerificationAccuracy(predicted, actual)
	rec.ActualKWH = &actual
	rec.Accuracy = &accuracy
	if err := s.storage.UpdateForecast(ctx, rec); err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "verify")
		writeJSONError(w, "failed to save verification", http.StatusInternalServerError)
		return
	}

	res := VerifyRes{
		Date:             today,
		PredictedKWH:     predicted,
		ActualKWH:        actual,
		Accuracy:         accuracy,
		CorrectionFactor: settings.CorrectionFactor,
	}
	if settings.LearnCorrectionFactor {
		if cf, changed := forecast.LearnCorrectionFactor(settings.CorrectionFactor, predicted, actual); changed {
			settings.CorrectionFactor = cf
			if err := s.storage.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
				s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "verify")
				writeJSONError(w, "failed to save correction factor", http.StatusInternalServerError)
				return
			}
			res.CorrectionFactor = cf
			res.CorrectionUpdated = true
		}
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"forecast verified",
		slog.Float64("predicted", predicted),
		slog.Float64("actual", actual),
		slog.Float64("accuracy", accuracy),
		slog.Float64("correctionFactor", res.CorrectionFactor),
		slog.Bool("correctionUpdated", res.CorrectionUpdated),
	)
	writeJSON(w, res)
}

// actualProduction reads today's yield from the sensors and records it. When
// the sensors are unavailable the stored daily production is used instead.
func (s *Server) actualProduction(r *http.Request, today string) (float64, bool) {
	ctx := r.Context()
	readings, err := s.sensors.Readings(ctx)
	if err != nil {
		s.errors.HandleError(ctx, err, "verify")
	} else if yield, ok := types.Value(readings.CurrentYield); ok && yield >= 0 {
		p := types.DailyProduction{Date: today, KWH: yield, UpdatedAt: s.now()}
		if err := s.storage.UpsertDailyProduction(ctx, p, types.CurrentDailyProductionVersion); err != nil {
			s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "verify")
		}
		return yield, true
	}

	stored, err := s.storage.GetDailyProductions(ctx, today, today)
	if err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "verify")
		return 0, false
	}
	for _, p := range stored {
		if p.Date == today {
			return p.KWH, true
		}
	}
	return 0, false
}
