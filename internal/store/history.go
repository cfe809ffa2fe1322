// Package store keeps a local SQLite history of predictions and instrument
// extractions so results can be reviewed after the chat session ends.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"witlab/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	mode       TEXT NOT NULL,
	formula    TEXT NOT NULL,
	record     TEXT NOT NULL,
	pce        REAL,
	ff         REAL,
	voc        REAL,
	jsc        REAL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);

CREATE TABLE IF NOT EXISTS extractions (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	file       TEXT NOT NULL,
	metrics    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at);
`

// PredictionEntry is one evaluated formula.
type PredictionEntry struct {
	ID        string
	CreatedAt time.Time
	SessionID string
	Mode      string
	Formula   string
	Record    json.RawMessage // feature record as sent to the service
	PCE       *float64
	FF        *float64
	Voc       *float64
	Jsc       *float64
	Error     string
}

// ExtractionEntry is the metrics pulled from one instrument file.
type ExtractionEntry struct {
	ID        string
	CreatedAt time.Time
	SessionID string
	File      string
	Metrics   map[string]string
}

// History is the SQLite-backed result log.
type History struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open creates or opens the history database at path.
func Open(path string) (*History, error) {
	timer := logging.StartTimer(logging.CategoryStore, "history.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreError("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set journal_mode=WAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("history opened at %s", path)
	return &History{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Path returns the database location.
func (h *History) Path() string { return h.path }

// RecordPrediction stores e and returns its generated ID.
func (h *History) RecordPrediction(ctx context.Context, e PredictionEntry) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now()
	}
	record := string(e.Record)
	if record == "" {
		record = "{}"
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO predictions (id, created_at, session_id, mode, formula, record, pce, ff, voc, jsc, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixNano(), e.SessionID, e.Mode, e.Formula, record,
		nullFloat(e.PCE), nullFloat(e.FF), nullFloat(e.Voc), nullFloat(e.Jsc), e.Error)
	if err != nil {
		logging.StoreError("insert prediction: %v", err)
		return "", fmt.Errorf("failed to record prediction: %w", err)
	}
	return e.ID, nil
}

// RecordExtraction stores e and returns its generated ID.
func (h *History) RecordExtraction(ctx context.Context, e ExtractionEntry) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now()
	}
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO extractions (id, created_at, session_id, file, metrics)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixNano(), e.SessionID, e.File, string(metrics))
	if err != nil {
		logging.StoreError("insert extraction: %v", err)
		return "", fmt.Errorf("failed to record extraction: %w", err)
	}
	return e.ID, nil
}

// RecentPredictions returns up to limit entries, newest first.
func (h *History) RecentPredictions(ctx context.Context, limit int) ([]PredictionEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, created_at, session_id, mode, formula, record, pce, ff, voc, jsc, error
		FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []PredictionEntry
	for rows.Next() {
		var (
			e                 PredictionEntry
			ts                int64
			record            string
			pce, ff, voc, jsc sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.Mode, &e.Formula, &record, &pce, &ff, &voc, &jsc, &e.Error); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, ts)
		e.Record = json.RawMessage(record)
		e.PCE, e.FF, e.Voc, e.Jsc = floatPtr(pce), floatPtr(ff), floatPtr(voc), floatPtr(jsc)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentExtractions returns up to limit entries, newest first.
func (h *History) RecentExtractions(ctx context.Context, limit int) ([]ExtractionEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, created_at, session_id, file, metrics
		FROM extractions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query extractions: %w", err)
	}
	defer rows.Close()

	var out []ExtractionEntry
	for rows.Next() {
		var (
			e       ExtractionEntry
			ts      int64
			metrics string
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.File, &metrics); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, ts)
		if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
			return nil, fmt.Errorf("extraction %s: bad metrics: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
