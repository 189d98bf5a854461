package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collConfig     = "config"
	collForecasts  = "forecasts"
	collProduction = "daily_production"
	collSamples    = "hourly_samples"
)

// FirestoreProvider implements Database using Google Cloud Firestore. All
// collections live under sites/<siteID> so several installations can share a
// database.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	siteID    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	siteID := lflag.String("firestore-site-id", "default", "Document under sites/ that holds this installation's data")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.siteID = *siteID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.siteID == "" {
		return errors.New("firestore-site-id cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("sites").Doc(f.siteID).Collection(name)
}

// decodeDoc unmarshals the "json" field of doc into a T.
func decodeDoc[T any](ctx context.Context, doc *firestore.DocumentSnapshot, kind string) (T, error) {
	var v T
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("kind", kind), slog.String("docID", doc.Ref.ID))
		return v, fmt.Errorf("%s document %s missing 'json' field: %w", kind, doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("kind", kind), slog.String("docID", doc.Ref.ID))
		return v, fmt.Errorf("%s document %s 'json' field is not string", kind, doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("kind", kind), slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return v, fmt.Errorf("failed to unmarshal %s (id=%s): %w", kind, doc.Ref.ID, err)
	}
	return v, nil
}

// decodeAll drains iter, decoding every document.
func decodeAll[T any](ctx context.Context, iter *firestore.DocumentIterator, kind string) ([]T, error) {
	defer iter.Stop()

	var out []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating %s: %w", kind, err)
		}
		v, err := decodeDoc[T](ctx, doc, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	// Read version if available (default 0)
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection(collConfig).Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}
	s, err := decodeDoc[types.Settings](ctx, doc, "settings")
	if err != nil {
		return types.Settings{}, 0, err
	}
	return s, docVersion(doc), nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.collection(collConfig).Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (f *FirestoreProvider) setForecast(ctx context.Context, rec types.ForecastRecord) error {
	if rec.ID == "" {
		return errors.New("forecast record missing id")
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}
	_, err = f.collection(collForecasts).Doc(rec.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.CreatedAt,
		"date":      rec.Date,
	})
	if err != nil {
		return fmt.Errorf("failed to write forecast %s: %w", rec.ID, err)
	}
	return nil
}

// InsertForecast stores a new forecast record keyed by its ID.
func (f *FirestoreProvider) InsertForecast(ctx context.Context, rec types.ForecastRecord) error {
	return f.setForecast(ctx, rec)
}

// UpdateForecast replaces a stored forecast record, usually to attach the
// verification result.
func (f *FirestoreProvider) UpdateForecast(ctx context.Context, rec types.ForecastRecord) error {
	return f.setForecast(ctx, rec)
}

// GetLatestForecast returns the most recently created forecast record.
func (f *FirestoreProvider) GetLatestForecast(ctx context.Context) (types.ForecastRecord, error) {
	// firestore automatically creates indexes for top-level fields
	iter := f.collection(collForecasts).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.ForecastRecord{}, ErrNotFound
	}
	if err != nil {
		return types.ForecastRecord{}, fmt.Errorf("failed to get latest forecast doc: %w", err)
	}
	return decodeDoc[types.ForecastRecord](ctx, doc, "forecast")
}

// GetForecastHistory retrieves forecast records created in [start, end).
func (f *FirestoreProvider) GetForecastHistory(ctx context.Context, start, end time.Time) ([]types.ForecastRecord, error) {
	iter := f.collection(collForecasts).
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	return decodeAll[types.ForecastRecord](ctx, iter, "forecast")
}

// UpsertDailyProduction adds or updates a daily total in the
// "daily_production" collection. The document ID is the ISO date so range
// queries on the ID are ordered.
func (f *FirestoreProvider) UpsertDailyProduction(ctx context.Context, p types.DailyProduction, version int) error {
	if _, err := time.Parse(types.DateFormat, p.Date); err != nil {
		return fmt.Errorf("invalid production date %q: %w", p.Date, err)
	}
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal daily production: %w", err)
	}
	_, err = f.collection(collProduction).Doc(p.Date).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert daily production: %w", err)
	}
	return nil
}

// GetDailyProductions retrieves daily totals for start <= date <= end.
func (f *FirestoreProvider) GetDailyProductions(ctx context.Context, start, end string) ([]types.DailyProduction, error) {
	coll := f.collection(collProduction)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start)).
		Where(firestore.DocumentID, "<=", coll.Doc(end)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	return decodeAll[types.DailyProduction](ctx, iter, "daily production")
}

// UpsertHourlySamples writes training samples in bulk. The document ID is
// the RFC3339 UTC timestamp of TSHourStart.
func (f *FirestoreProvider) UpsertHourlySamples(ctx context.Context, samples []types.HourlySample, version int) error {
	if len(samples) == 0 {
		return nil
	}
	coll := f.collection(collSamples)
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(samples))
	for _, s := range samples {
		if s.TSHourStart.IsZero() {
			bw.End()
			return errors.New("hourly sample missing tsHourStart")
		}
		jsonBytes, err := json.Marshal(s)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to marshal hourly sample: %w", err)
		}
		docID := s.TSHourStart.UTC().Format(time.RFC3339)
		job, err := bw.Set(coll.Doc(docID), map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": s.TSHourStart,
			"version":   version,
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue hourly sample %s: %w", docID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to upsert %d of %d hourly samples: %w", len(errs), len(samples), errors.Join(errs...))
	}
	return nil
}

// GetHourlySamples retrieves samples with start <= TSHourStart < end.
func (f *FirestoreProvider) GetHourlySamples(ctx context.Context, start, end time.Time) ([]types.HourlySample, error) {
	startDocID := start.Truncate(time.Hour).UTC().Format(time.RFC3339)
	endDocID := end.Truncate(time.Hour).UTC().Format(time.RFC3339)

	coll := f.collection(collSamples)
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	return decodeAll[types.HourlySample](ctx, iter, "hourly sample")
}

// GetModelState loads the persisted model from "config/model".
func (f *FirestoreProvider) GetModelState(ctx context.Context) (types.ModelState, error) {
	doc, err := f.collection(collConfig).Doc("model").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ModelState{}, ErrNotFound
		}
		return types.ModelState{}, fmt.Errorf("failed to fetch model doc: %w", err)
	}
	return decodeDoc[types.ModelState](ctx, doc, "model")
}

// SetModelState persists the trained model to "config/model".
func (f *FirestoreProvider) SetModelState(ctx context.Context, state types.ModelState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal model state: %w", err)
	}
	_, err = f.collection(collConfig).Doc("model").Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"version":   state.Version,
		"timestamp": state.TrainedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save model state: %w", err)
	}
	return nil
}
