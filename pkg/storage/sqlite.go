package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS forecasts (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forecasts_created_at ON forecasts(created_at);
CREATE TABLE IF NOT EXISTS daily_production (
	date TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS hourly_samples (
	ts INTEGER PRIMARY KEY,
	json TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS model_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	json TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteProvider implements Database on a local SQLite file for single box
// installs. Rows hold the same JSON documents as the Firestore provider.
type SQLiteProvider struct {
	path string
	db   *sql.DB
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "pvforecast.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite returns a provider for the database file at path. Init must be
// called before use.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path cannot be empty")
	}
	return nil
}

// Init opens the database and creates missing tables.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening sqlite database %s: %w", s.path, err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("creating sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeRow[T any](raw string, kind string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return v, nil
}

func queryAll[T any](ctx context.Context, db *sql.DB, kind, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		v, err := decodeRow[T](raw, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", kind, err)
	}
	return out, nil
}

// GetSettings returns the stored settings, or zero settings at version 0.
func (s *SQLiteProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var (
		raw     string
		version int
	)
	err := s.db.QueryRowContext(ctx, `SELECT json, version FROM settings WHERE id = 1`).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings: %w", err)
	}
	settings, err := decodeRow[types.Settings](raw, "settings")
	if err != nil {
		return types.Settings{}, 0, err
	}
	return settings, version, nil
}

// SetSettings replaces the stored settings.
func (s *SQLiteProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, json, version) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET json = excluded.json, version = excluded.version`,
		string(jsonBytes), version,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *SQLiteProvider) setForecast(ctx context.Context, rec types.ForecastRecord) error {
	if rec.ID == "" {
		return errors.New("forecast record missing id")
	}
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forecasts (id, created_at, json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, json = excluded.json`,
		rec.ID, rec.CreatedAt.UnixNano(), string(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to write forecast %s: %w", rec.ID, err)
	}
	return nil
}

// InsertForecast stores a new forecast record.
func (s *SQLiteProvider) InsertForecast(ctx context.Context, rec types.ForecastRecord) error {
	return s.setForecast(ctx, rec)
}

// UpdateForecast replaces a stored forecast record.
func (s *SQLiteProvider) UpdateForecast(ctx context.Context, rec types.ForecastRecord) error {
	return s.setForecast(ctx, rec)
}

// GetLatestForecast returns the most recently created forecast record.
func (s *SQLiteProvider) GetLatestForecast(ctx context.Context) (types.ForecastRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM forecasts ORDER BY created_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ForecastRecord{}, ErrNotFound
	}
	if err != nil {
		return types.ForecastRecord{}, fmt.Errorf("failed to get latest forecast: %w", err)
	}
	return decodeRow[types.ForecastRecord](raw, "forecast")
}

// GetForecastHistory retrieves forecast records created in [start, end).
func (s *SQLiteProvider) GetForecastHistory(ctx context.Context, start, end time.Time) ([]types.ForecastRecord, error) {
	return queryAll[types.ForecastRecord](ctx, s.db, "forecasts",
		`SELECT json FROM forecasts WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC`,
		start.UnixNano(), end.UnixNano(),
	)
}

// UpsertDailyProduction adds or replaces the total for p.Date.
func (s *SQLiteProvider) UpsertDailyProduction(ctx context.Context, p types.DailyProduction, version int) error {
	if _, err := time.Parse(types.DateFormat, p.Date); err != nil {
		return fmt.Errorf("invalid production date %q: %w", p.Date, err)
	}
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal daily production: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_production (date, json, version) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET json = excluded.json, version = excluded.version`,
		p.Date, string(jsonBytes), version,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily production: %w", err)
	}
	return nil
}

// GetDailyProductions retrieves daily totals for start <= date <= end.
func (s *SQLiteProvider) GetDailyProductions(ctx context.Context, start, end string) ([]types.DailyProduction, error) {
	return queryAll[types.DailyProduction](ctx, s.db, "daily production",
		`SELECT json FROM daily_production WHERE date >= ? AND date <= ? ORDER BY date ASC`,
		start, end,
	)
}

// UpsertHourlySamples writes samples in one transaction.
func (s *SQLiteProvider) UpsertHourlySamples(ctx context.Context, samples []types.HourlySample, version int) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning sample transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hourly_samples (ts, json, version) VALUES (?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET json = excluded.json, version = excluded.version`)
	if err != nil {
		return fmt.Errorf("preparing sample upsert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if sample.TSHourStart.IsZero() {
			return errors.New("hourly sample missing tsHourStart")
		}
		jsonBytes, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("failed to marshal hourly sample: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sample.TSHourStart.Unix(), string(jsonBytes), version); err != nil {
			return fmt.Errorf("failed to upsert hourly sample %s: %w", sample.TSHourStart.UTC().Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing samples: %w", err)
	}
	return nil
}

// GetHourlySamples retrieves samples with start <= TSHourStart < end.
func (s *SQLiteProvider) GetHourlySamples(ctx context.Context, start, end time.Time) ([]types.HourlySample, error) {
	return queryAll[types.HourlySample](ctx, s.db, "hourly samples",
		`SELECT json FROM hourly_samples WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		start.Truncate(time.Hour).Unix(), end.Truncate(time.Hour).Unix(),
	)
}

// GetModelState loads the persisted model.
func (s *SQLiteProvider) GetModelState(ctx context.Context) (types.ModelState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM model_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ModelState{}, ErrNotFound
	}
	if err != nil {
		return types.ModelState{}, fmt.Errorf("failed to fetch model state: %w", err)
	}
	return decodeRow[types.ModelState](raw, "model state")
}

// SetModelState persists the trained model.
func (s *SQLiteProvider) SetModelState(ctx context.Context, state types.ModelState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal model state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_state (id, json, version) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET json = excluded.json, version = excluded.version`,
		string(jsonBytes), state.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save model state: %w", err)
	}
	return nil
}
