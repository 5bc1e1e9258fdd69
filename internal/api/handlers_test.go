package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hba1c-validation-server/internal/audit"
	"github.com/hba1c-validation-server/internal/domain"
	"github.com/hba1c-validation-server/internal/service"
)

func testConfig() *domain.Config {
	return &domain.Config{
		Server:   domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		Training: domain.TrainingConfig{Size: 500, Seed: 42},
		Thresholds: domain.ThresholdsConfig{
			AnomalyQuantile:    0.95,
			DisorderConfidence: 0.5,
			HbA1cDelta:         0.3,
		},
		Audit: domain.AuditConfig{RecentLimit: 20},
		Cache: domain.CacheConfig{Enabled: true, Size: 64},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// newTestServer builds a server whose trainer has already finished.
func newTestServer(t *testing.T) *Server {
	return newTestServerWithStore(t, audit.NopStore{})
}

func newTestServerWithStore(t *testing.T, store audit.Store) *Server {
	t.Helper()
	cfg := testConfig()
	logger := testLogger()

	trainer := service.NewTrainer(logger, cfg)
	done := make(chan struct{})
	trainer.Start(done)
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("training did not finish in time")
	}

	state, reason := trainer.State()
	require.Equal(t, service.StateHealthy, state, "training failed: %s", reason)

	return NewServer(cfg, logger, trainer, store)
}

// newInitializingServer builds a server whose trainer never runs, so every
// inference endpoint sees the initializing state.
func newInitializingServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	logger := testLogger()
	trainer := service.NewTrainer(logger, cfg)
	return NewServer(cfg, logger, trainer, audit.NopStore{})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func validPatient() map[string]any {
	return map[string]any{
		"patient_id":        "P12345",
		"hba1c":             7.2,
		"fasting_glucose":   120,
		"haemoglobin":       9.5,
		"ferritin":          12,
		"mcv":               75,
		"rbc_lifespan_days": 90,
	}
}

func healthyPatient() map[string]any {
	return map[string]any{
		"patient_id":         "P00001",
		"hba1c":              5.4,
		"fasting_glucose":    92,
		"haemoglobin":        14.5,
		"mcv":                90,
		"ferritin":           110,
		"reticulocyte_count": 1.2,
		"rbc_lifespan_days":  118,
	}
}

func TestHealth_Initializing(t *testing.T) {
	srv := newInitializingServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "initializing", body["status"])
	assert.Equal(t, false, body["models_loaded"])
	assert.Equal(t, ServiceName, body["service"])
}

func TestHealth_Healthy(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["models_loaded"])
}

func TestHealth_Failed(t *testing.T) {
	cfg := testConfig()
	cfg.Training.Size = 0
	logger := testLogger()

	trainer := service.NewTrainer(logger, cfg)
	done := make(chan struct{})
	trainer.Start(done)
	<-done

	srv := NewServer(cfg, logger, trainer, audit.NopStore{})

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.NotEmpty(t, body["error"])
}

func TestValidateHbA1c_BeforeTrainingReturns503(t *testing.T) {
	srv := newInitializingServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", validPatient())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "still initializing")
}

func TestValidateHbA1c_IronDeficiencyScenario(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", validPatient())
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["timestamp"])

	assessment, ok := body["assessment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "P12345", assessment["patient_id"])
	assert.NotEmpty(t, assessment["assessment_id"])

	disorder := assessment["disorder_prediction"].(map[string]any)
	assert.Equal(t, "iron_deficiency", disorder["predicted_category"])

	correction := assessment["hba1c_correction"].(map[string]any)
	assert.Equal(t, 7.2, correction["reported_hba1c"])
	assert.Greater(t, correction["delta"].(float64), 0.0)

	validity := assessment["test_validity"].(map[string]any)
	assert.Equal(t, false, validity["is_reliable"])
	assert.NotEmpty(t, validity["reasoning"])
}

func TestValidateHbA1c_MissingRequiredFields(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", map[string]any{
		"patient_id": "P99999",
		"hba1c":      6.1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])

	fields, ok := body["fields"].([]any)
	require.True(t, ok, "field-level errors must name the offending fields")
	assert.ElementsMatch(t, []any{"fasting_glucose", "haemoglobin"}, fields)
}

func TestValidateHbA1c_MissingPatientID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", map[string]any{
		"hba1c":           7.2,
		"fasting_glucose": 120,
		"haemoglobin":     9.5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])

	fields, ok := body["fields"].([]any)
	require.True(t, ok)
	assert.Contains(t, fields, "patient_id")
}

func TestValidateHbA1c_NonNumericFieldNamed(t *testing.T) {
	srv := newTestServer(t)

	patient := validPatient()
	patient["hba1c"] = "abc"

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", patient)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])

	fields, ok := body["fields"].([]any)
	require.True(t, ok, "type errors must name the offending field")
	assert.Equal(t, []any{"hba1c"}, fields)
}

func TestValidateHbA1c_RepeatedRequestsBothAudited(t *testing.T) {
	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "assessments.db"))
	require.NoError(t, err)
	defer store.Close()

	srv := newTestServerWithStore(t, store)

	w1 := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", validPatient())
	require.Equal(t, http.StatusOK, w1.Code)
	w2 := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", validPatient())
	require.Equal(t, http.StatusOK, w2.Code)

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "every assessment of the same record must reach the audit trail")
	assert.NotEqual(t, entries[0].AssessmentID, entries[1].AssessmentID)
}

func TestValidateHbA1c_OutOfRangeField(t *testing.T) {
	srv := newTestServer(t)

	patient := validPatient()
	patient["hba1c"] = 45.0

	w := doJSON(t, srv, http.MethodPost, "/api/validate-hba1c", patient)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	fields, ok := body["fields"].([]any)
	require.True(t, ok)
	assert.Contains(t, fields, "hba1c")
}

func TestValidateHbA1c_MalformedJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/validate-hba1c", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectAnomaly(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/detect-anomaly", healthyPatient())
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "P00001", body["patient_id"])

	detection := body["anomaly_detection"].(map[string]any)
	assert.NotNil(t, detection["anomaly_score"])
	assert.Equal(t, false, detection["is_anomalous"])
}

func TestPredictDisorder(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/predict-disorder", validPatient())
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	prediction := body["disorder_prediction"].(map[string]any)
	assert.Equal(t, "iron_deficiency", prediction["predicted_category"])

	probs := prediction["probabilities"].(map[string]any)
	assert.Len(t, probs, 5)
	sum := 0.0
	for _, p := range probs {
		sum += p.(float64)
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestCorrectHbA1c(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/correct-hba1c", validPatient())
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	correction := body["correction"].(map[string]any)
	assert.Equal(t, 7.2, correction["reported_hba1c"])
	assert.Equal(t, "observed", correction["lifespan_source"])
	assert.Equal(t, 90.0, correction["rbc_lifespan_days"])
	assert.NotEmpty(t, correction["rationale"])
}

func TestBatchValidate_EmptyArray(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/batch-validate", map[string]any{"patients": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "no patient data provided")
}

func TestBatchValidate_MixedRecordsIsolatesFailures(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/batch-validate", map[string]any{
		"patients": []any{
			healthyPatient(),
			map[string]any{"patient_id": "BAD001", "hba1c": 6.0}, // missing required fields
			validPatient(),
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 3.0, body["total_patients"])
	assert.Equal(t, 3.0, body["processed"])
	assert.Equal(t, 1.0, body["unreliable_tests"])

	results := body["results"].([]any)
	require.Len(t, results, 3)

	first := results[0].(map[string]any)
	assert.Equal(t, true, first["success"])

	second := results[1].(map[string]any)
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "BAD001", second["patient_id"])
	assert.NotEmpty(t, second["error"])

	third := results[2].(map[string]any)
	assert.Equal(t, true, third["success"])
}

func TestModelInfo(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/model-info", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 500.0, body["training_data_size"])

	models := body["models"].(map[string]any)
	for _, name := range []string{"anomaly_detector", "disorder_classifier", "hba1c_corrector"} {
		m, ok := models[name].(map[string]any)
		require.True(t, ok, "missing model %s", name)
		assert.Equal(t, true, m["trained"])
	}

	classifier := models["disorder_classifier"].(map[string]any)
	categories := classifier["categories"].([]any)
	assert.Len(t, categories, 5)
}

func TestModelInfo_BeforeTraining(t *testing.T) {
	srv := newInitializingServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/model-info", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExampleRequest(t *testing.T) {
	srv := newInitializingServer(t)

	// Static payload, available before training completes.
	w := doJSON(t, srv, http.MethodGet, "/api/example-request", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	example := body["example_request"].(map[string]any)
	assert.Equal(t, "P12345", example["patient_id"])

	required := body["required_fields"].([]any)
	assert.ElementsMatch(t, []any{"patient_id", "hba1c", "fasting_glucose", "haemoglobin"}, required)
}

func TestRecentAssessments_EmptyStore(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/assessments/recent", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assessments, ok := body["assessments"].([]any)
	require.True(t, ok)
	assert.Empty(t, assessments)
}

func TestSecurityHeadersPresent(t *testing.T) {
	srv := newInitializingServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}
