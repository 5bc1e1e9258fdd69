// Package audit persists an append-only record of completed assessments.
package audit

import (
	"context"
	"time"
)

// Entry is one persisted assessment outcome.
type Entry struct {
	ID                int64     `json:"id"`
	AssessmentID      string    `json:"assessment_id"`
	PatientID         string    `json:"patient_id"`
	IsReliable        bool      `json:"is_reliable"`
	AnomalyScore      float64   `json:"anomaly_score"`
	PredictedDisorder string    `json:"predicted_disorder"`
	ReportedHbA1c     float64   `json:"reported_hba1c"`
	CorrectedHbA1c    float64   `json:"corrected_hba1c"`
	Delta             float64   `json:"delta"`
	Reasoning         []string  `json:"reasoning"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store is the assessment audit log. Save appends; Recent lists newest
// entries first.
type Store interface {
	Save(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// NopStore discards writes and returns nothing; used when auditing is
// disabled.
type NopStore struct{}

// Save implements Store.
func (NopStore) Save(ctx context.Context, entry *Entry) error { return nil }

// Recent implements Store.
func (NopStore) Recent(ctx context.Context, limit int) ([]*Entry, error) { return nil, nil }

// Close implements Store.
func (NopStore) Close() error { return nil }
