package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store. It creates the database
// file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle; the caller owns
// schema creation. Used by tests.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		is_reliable INTEGER NOT NULL DEFAULT 0,
		anomaly_score REAL NOT NULL DEFAULT 0,
		predicted_disorder TEXT NOT NULL,
		reported_hba1c REAL NOT NULL,
		corrected_hba1c REAL NOT NULL,
		delta REAL NOT NULL,
		reasoning TEXT DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_patient_id ON assessments(patient_id);
	CREATE INDEX IF NOT EXISTS idx_assessments_created_at ON assessments(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save appends one assessment outcome to the audit log.
func (s *SQLiteStore) Save(ctx context.Context, entry *Entry) error {
	reasoning, err := json.Marshal(entry.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to encode reasoning: %w", err)
	}

	now := entry.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO assessments (
			assessment_id, patient_id, is_reliable, anomaly_score,
			predicted_disorder, reported_hba1c, corrected_hba1c, delta,
			reasoning, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.AssessmentID,
		entry.PatientID,
		entry.IsReliable,
		entry.AnomalyScore,
		entry.PredictedDisorder,
		entry.ReportedHbA1c,
		entry.CorrectedHbA1c,
		entry.Delta,
		string(reasoning),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.CreatedAt = now
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assessment_id, patient_id, is_reliable, anomaly_score,
			predicted_disorder, reported_hba1c, corrected_hba1c, delta,
			reasoning, created_at
		FROM assessments
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a row into an Entry.
func scanEntry(s scanner) (*Entry, error) {
	entry := &Entry{}
	var reasoning string

	err := s.Scan(
		&entry.ID, &entry.AssessmentID, &entry.PatientID, &entry.IsReliable,
		&entry.AnomalyScore, &entry.PredictedDisorder, &entry.ReportedHbA1c,
		&entry.CorrectedHbA1c, &entry.Delta, &reasoning, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reasoning != "" {
		if err := json.Unmarshal([]byte(reasoning), &entry.Reasoning); err != nil {
			return nil, fmt.Errorf("failed to decode reasoning: %w", err)
		}
	}
	return entry, nil
}
