package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/audit"
	"github.com/hba1c-validation-server/internal/domain"
	"github.com/hba1c-validation-server/internal/model"
	"github.com/hba1c-validation-server/internal/service"
)

// batchRequest is the batch-validate payload.
type batchRequest struct {
	Patients []domain.PatientRecord `json:"patients"`
}

// batchItem is one per-record outcome within a batch response. Failures are
// isolated: a bad sibling record never aborts the batch.
type batchItem struct {
	Success    bool                     `json:"success"`
	PatientID  string                   `json:"patient_id,omitempty"`
	Assessment *domain.AssessmentResult `json:"assessment,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// handleHealth reports the tri-state readiness signal.
func (s *Server) handleHealth(c *gin.Context) {
	state, reason := s.trainer.State()

	body := gin.H{
		"status":        string(state),
		"models_loaded": state == service.StateHealthy,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"service":       ServiceName,
	}
	if state == service.StateFailed {
		body["error"] = reason
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// handleValidateHbA1c runs the full assessment for one record.
func (s *Server) handleValidateHbA1c(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	var record domain.PatientRecord
	if !s.bindRecord(c, &record) {
		return
	}

	result, err := cds.AssessTestResult(&record)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.auditAssessment(c, result)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"assessment": result,
	})
}

// handleDetectAnomaly exposes the anomaly detector in isolation.
func (s *Server) handleDetectAnomaly(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	var record domain.PatientRecord
	if !s.bindRecord(c, &record) {
		return
	}

	result, err := cds.DetectAnomaly(&record)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"patient_id":        record.PatientID,
		"anomaly_detection": result,
	})
}

// handlePredictDisorder exposes the disorder classifier in isolation.
func (s *Server) handlePredictDisorder(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	var record domain.PatientRecord
	if !s.bindRecord(c, &record) {
		return
	}

	result, err := cds.PredictDisorder(&record)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"patient_id":          record.PatientID,
		"disorder_prediction": result,
	})
}

// handleCorrectHbA1c exposes the corrector in isolation.
func (s *Server) handleCorrectHbA1c(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	var record domain.PatientRecord
	if !s.bindRecord(c, &record) {
		return
	}

	result, err := cds.PredictCorrectedHbA1c(&record)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"patient_id": record.PatientID,
		"correction": result,
	})
}

// handleBatchValidate assesses each record independently and aggregates the
// unreliable count across successes.
func (s *Server) handleBatchValidate(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Patients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no patient data provided: patients must be a non-empty array"})
		return
	}

	results := make([]batchItem, 0, len(req.Patients))
	unreliable := 0
	for i := range req.Patients {
		record := &req.Patients[i]
		assessment, err := cds.AssessTestResult(record)
		if err != nil {
			results = append(results, batchItem{
				Success:   false,
				PatientID: patientIDOrUnknown(record),
				Error:     err.Error(),
			})
			continue
		}
		s.auditAssessment(c, assessment)
		if !assessment.TestValidity.IsReliable {
			unreliable++
		}
		results = append(results, batchItem{Success: true, Assessment: assessment})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"total_patients":   len(req.Patients),
		"processed":        len(results),
		"unreliable_tests": unreliable,
		"results":          results,
	})
}

// handleModelInfo reports per-model metadata once training has completed.
func (s *Server) handleModelInfo(c *gin.Context) {
	cds, err := s.trainer.CDS()
	if err != nil {
		s.respondError(c, err)
		return
	}

	info, err := cds.ModelInfo()
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"models": gin.H{
			"anomaly_detector":    info.AnomalyDetector,
			"disorder_classifier": info.DisorderClassifier,
			"hba1c_corrector":     info.HbA1cCorrector,
		},
		"training_data_size": info.TrainingDataSize,
	})
}

// handleExampleRequest returns a canonical request payload for integrators.
func (s *Server) handleExampleRequest(c *gin.Context) {
	example := gin.H{
		"patient_id": "P12345", "hba1c": 7.2, "fasting_glucose": 120,
		"random_glucose": 140, "ogtt_2hr": 160, "avg_glucose_cgm": 125,
		"haemoglobin": 9.5, "rbc_count": 4.2, "mcv": 75, "mch": 25,
		"mchc": 32, "reticulocyte_count": 0.8, "wbc_count": 6.5,
		"platelet_count": 280, "serum_iron": 30, "ferritin": 12,
		"transferrin_saturation": 15, "tibc": 450, "bilirubin": 0.6,
		"ldh": 140, "haptoglobin": 100, "age": 35, "gender": "F",
		"rbc_lifespan_days": 90,
	}
	c.JSON(http.StatusOK, gin.H{
		"example_request": example,
		"required_fields": append([]string{"patient_id"}, model.RequiredFieldNames()...),
		"optional_fields": model.OptionalFieldNames(),
	})
}

// handleRecentAssessments lists the newest audit entries.
func (s *Server) handleRecentAssessments(c *gin.Context) {
	limit := s.cfg.Audit.RecentLimit
	entries, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read audit store")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read assessment history"})
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"assessments": entries,
	})
}

// bindRecord decodes the request body into a PatientRecord, responding with
// a 400 on malformed JSON. Missing fields are left absent for the models to
// validate; a wrongly typed field is mapped into InvalidRecordError so the
// response names the offender like any other field-level failure.
func (s *Server) bindRecord(c *gin.Context, record *domain.PatientRecord) bool {
	if err := c.ShouldBindJSON(record); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			s.respondError(c, domain.NewInvalidRecordError(
				"field has wrong type, got "+typeErr.Value, fieldName(typeErr.Field)))
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fieldName strips any struct path prefix from a decoder field reference,
// leaving the JSON key.
func fieldName(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// auditAssessment appends the outcome to the audit store. Audit failures are
// logged, never surfaced: the assessment itself already succeeded.
func (s *Server) auditAssessment(c *gin.Context, result *domain.AssessmentResult) {
	entry := &audit.Entry{
		AssessmentID:      result.AssessmentID,
		PatientID:         result.PatientID,
		IsReliable:        result.TestValidity.IsReliable,
		AnomalyScore:      result.Anomaly.AnomalyScore,
		PredictedDisorder: result.Disorder.PredictedCategory.String(),
		ReportedHbA1c:     result.Correction.ReportedHbA1c,
		CorrectedHbA1c:    result.Correction.CorrectedHbA1c,
		Delta:             result.Correction.Delta,
		Reasoning:         result.TestValidity.Reasoning,
	}
	if err := s.store.Save(c.Request.Context(), entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"assessment_id": result.AssessmentID,
			"patient_id":    result.PatientID,
		}).Warn("Failed to persist assessment audit entry")
	}
}

// respondError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	var invalidRecord *domain.InvalidRecordError
	var notTrained *domain.ModelNotTrainedError
	var trainingFailed *domain.TrainingFailedError

	switch {
	case errors.As(err, &invalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   invalidRecord.Error(),
			"fields":  invalidRecord.Fields,
		})
	case errors.As(err, &notTrained):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Models are still initializing, please retry in 30 seconds.",
		})
	case errors.As(err, &trainingFailed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   trainingFailed.Error(),
		})
	default:
		s.logger.WithError(err).Error("Unclassified request failure")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

func patientIDOrUnknown(rec *domain.PatientRecord) string {
	if rec.PatientID == "" {
		return "unknown"
	}
	return rec.PatientID
}
