package audit

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "assessments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntry(id string) *Entry {
	return &Entry{
		AssessmentID:      id,
		PatientID:         "P12345",
		IsReliable:        false,
		AnomalyScore:      2.1,
		PredictedDisorder: "iron_deficiency",
		ReportedHbA1c:     7.2,
		CorrectedHbA1c:    7.9,
		Delta:             0.7,
		Reasoning:         []string{"probable blood disorder", "significant HbA1c correction"},
	}
}

func TestSQLiteStore_SaveAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := sampleEntry("a1")
	require.NoError(t, store.Save(ctx, entry))
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "a1", got.AssessmentID)
	assert.Equal(t, "P12345", got.PatientID)
	assert.False(t, got.IsReliable)
	assert.Equal(t, "iron_deficiency", got.PredictedDisorder)
	assert.Equal(t, 7.2, got.ReportedHbA1c)
	assert.Equal(t, []string{"probable blood disorder", "significant HbA1c correction"}, got.Reasoning)
}

func TestSQLiteStore_RecentOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := sampleEntry(fmt.Sprintf("a%d", i))
		entry.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(ctx, entry))
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, "a4", entries[0].AssessmentID)
	assert.Equal(t, "a3", entries[1].AssessmentID)
	assert.Equal(t, "a2", entries[2].AssessmentID)
}

func TestSQLiteStore_DuplicateAssessmentIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleEntry("dup")))
	err := store.Save(ctx, sampleEntry("dup"))
	assert.Error(t, err)
}

func TestSQLiteStore_RecentEmpty(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_SaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO assessments").
		WillReturnError(sql.ErrConnDone)

	store := NewSQLiteStoreWithDB(db)
	err = store.Save(context.Background(), sampleEntry("x1"))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RecentQueryUsesLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "assessment_id", "patient_id", "is_reliable", "anomaly_score",
		"predicted_disorder", "reported_hba1c", "corrected_hba1c", "delta",
		"reasoning", "created_at",
	}).AddRow(1, "a1", "P12345", false, 2.1, "iron_deficiency", 7.2, 7.9, 0.7,
		`["probable blood disorder"]`, time.Now().UTC())

	mock.ExpectQuery("SELECT (.+) FROM assessments").
		WithArgs(7).
		WillReturnRows(rows)

	store := NewSQLiteStoreWithDB(db)
	entries, err := store.Recent(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"probable blood disorder"}, entries[0].Reasoning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNopStore(t *testing.T) {
	store := NopStore{}
	ctx := context.Background()

	assert.NoError(t, store.Save(ctx, sampleEntry("n1")))

	entries, err := store.Recent(ctx, 10)
	assert.NoError(t, err)
	assert.Nil(t, entries)

	assert.NoError(t, store.Close())
}
