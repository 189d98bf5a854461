package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/ml"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/types"
)

// maxSampleBytes allows uploading a couple of months of samples at once.
const maxSampleBytes = 16 << 20

// LoadModel restores the persisted model. A missing or stale state leaves the
// predictor untrained.
func (s *Server) LoadModel(ctx context.Context) error {
	if s.predictor == nil {
		return nil
	}
	state, err := s.storage.GetModelState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		log.Ctx(ctx).InfoContext(ctx, "no persisted model state")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get model state: %w", err)
	}
	if err := s.predictor.Load(state); err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryMLModel, err), "model_load")
		return nil
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"model state loaded",
		slog.Float64("accuracy", state.Accuracy),
		slog.Int("samples", state.SamplesUsed),
		slog.Time("trainedAt", state.TrainedAt),
	)
	return nil
}

// SamplesReq is the body of POST /api/samples.
type SamplesReq struct {
	Samples []types.HourlySample `json:"samples"`
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SamplesReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSampleBytes)).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode samples", slog.Any("error", err))
		writeJSONError(w, "invalid samples body", http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		writeJSONError(w, "no samples", http.StatusBadRequest)
		return
	}
	for i, sample := range req.Samples {
		if sample.TSHourStart.IsZero() {
			writeJSONError(w, fmt.Sprintf("sample %d missing tsHourStart", i), http.StatusBadRequest)
			return
		}
		if _, ok := types.Value(&sample.ActualKWH); !ok || sample.ActualKWH < 0 {
			writeJSONError(w, fmt.Sprintf("sample %d has invalid actualKWH", i), http.StatusBadRequest)
			return
		}
	}

	if err := s.storage.UpsertHourlySamples(ctx, req.Samples, types.CurrentHourlySampleVersion); err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "samples")
		writeJSONError(w, "failed to store samples", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "samples stored", slog.Int("count", len(req.Samples)))
	writeJSON(w, map[string]interface{}{
		"status": "success",
		"count":  len(req.Samples),
	})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.predictor == nil {
		writeJSONError(w, "model not configured", http.StatusServiceUnavailable)
		return
	}

	settings, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	end := s.now()
	start := end.Add(-s.trainingWindow)
	samples, err := s.storage.GetHourlySamples(ctx, start, end)
	if err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "train")
		writeJSONError(w, "failed to get samples", http.StatusInternalServerError)
		return
	}

	s.predictor.SetLocation(settings.Location())
	s.predictor.SetPeakPowerKW(settings.PeakPowerKW)
	res, err := s.predictor.Train(ctx, samples)
	if errors.Is(err, ml.ErrInsufficientSamples) {
		log.Ctx(ctx).InfoContext(ctx, "not enough samples to train", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryMLModel, err), "train")
		writeJSONError(w, "training failed", http.StatusInternalServerError)
		return
	}

	if state, ok := s.predictor.State(); ok {
		if err := s.storage.SetModelState(ctx, state); err != nil {
			s.errors.HandleError(ctx, errorhandler.Wrap(errorhandler.CategoryDataIntegrity, err), "train")
			writeJSONError(w, "failed to save model", http.StatusInternalServerError)
			return
		}
	}
	s.metrics.ObserveTraining(res)

	writeJSON(w, map[string]interface{}{
		"status": "success",
		"result": res,
	})
}
