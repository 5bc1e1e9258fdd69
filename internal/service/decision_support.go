// Package service owns the trained model set and the reconciliation of the
// three sub-model outputs into a single reliability verdict.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
	"github.com/hba1c-validation-server/internal/model"
)

// ClinicalDecisionSupport orchestrates the three trained models over one
// shared feature vectorizer. InitializeModels is callable once; after it
// completes, the model artifacts are immutable and safe for concurrent
// reads.
type ClinicalDecisionSupport struct {
	logger     *logrus.Logger
	thresholds domain.ThresholdsConfig

	vectorizer *model.FeatureVectorizer
	anomaly    *model.AnomalyDetector
	classifier *model.DisorderClassifier
	corrector  *model.HbA1cCorrector

	cache        *lru.Cache[string, *assessmentCore]
	trained      bool
	trainingSize int
}

// assessmentCore is the deterministic part of an assessment: the model
// outputs for one record content hash. Identity fields are minted per
// request and never cached, so every response carries a fresh assessment ID.
type assessmentCore struct {
	anomaly    domain.AnomalyResult
	disorder   domain.DisorderPrediction
	correction domain.CorrectionResult
	validity   domain.TestValidity
}

// NewClinicalDecisionSupport creates an untrained orchestrator.
func NewClinicalDecisionSupport(logger *logrus.Logger, thresholds domain.ThresholdsConfig, cacheCfg domain.CacheConfig) *ClinicalDecisionSupport {
	vectorizer := model.NewFeatureVectorizer()
	classifier := model.NewDisorderClassifier(logger, vectorizer)

	cds := &ClinicalDecisionSupport{
		logger:     logger,
		thresholds: thresholds,
		vectorizer: vectorizer,
		anomaly:    model.NewAnomalyDetector(logger, vectorizer),
		classifier: classifier,
		corrector:  model.NewHbA1cCorrector(logger, vectorizer, classifier),
	}

	if cacheCfg.Enabled && cacheCfg.Size > 0 {
		// Inference is deterministic for a given trained model, so caching
		// by record content is safe.
		cache, err := lru.New[string, *assessmentCore](cacheCfg.Size)
		if err == nil {
			cds.cache = cache
		}
	}

	return cds
}

// InitializeModels fits the vectorizer and all three sub-models against the
// same training corpus. Re-invocation on a trained instance is rejected so a
// caller can never observe a partially refreshed model set.
func (cds *ClinicalDecisionSupport) InitializeModels(examples []domain.TrainingExample) error {
	if cds.trained {
		return fmt.Errorf("models are already initialized; start a new instance to retrain")
	}
	if len(examples) == 0 {
		return fmt.Errorf("training corpus is empty")
	}

	cds.logger.WithField("examples", len(examples)).Info("Initializing decision-support models")

	if err := cds.vectorizer.Fit(examples); err != nil {
		return fmt.Errorf("failed to fit feature vectorizer: %w", err)
	}
	if err := cds.anomaly.Fit(examples, cds.thresholds.AnomalyQuantile); err != nil {
		return fmt.Errorf("failed to fit anomaly detector: %w", err)
	}
	if err := cds.classifier.Fit(examples); err != nil {
		return fmt.Errorf("failed to fit disorder classifier: %w", err)
	}
	if err := cds.corrector.Fit(examples); err != nil {
		return fmt.Errorf("failed to fit HbA1c corrector: %w", err)
	}

	cds.trainingSize = len(examples)
	cds.trained = true
	cds.logger.Info("Decision-support models ready")
	return nil
}

// IsTrained reports whether InitializeModels has completed.
func (cds *ClinicalDecisionSupport) IsTrained() bool {
	return cds.trained
}

// AssessTestResult runs the record through all three models and reconciles
// their outputs into one verdict.
func (cds *ClinicalDecisionSupport) AssessTestResult(rec *domain.PatientRecord) (*domain.AssessmentResult, error) {
	if !cds.trained {
		return nil, &domain.ModelNotTrainedError{}
	}

	key := recordKey(rec)
	if cds.cache != nil {
		if cached, ok := cds.cache.Get(key); ok {
			return newAssessment(rec.PatientID, cached), nil
		}
	}

	anomaly, err := cds.anomaly.DetectAnomaly(rec)
	if err != nil {
		return nil, err
	}
	disorder, err := cds.classifier.PredictDisorder(rec)
	if err != nil {
		return nil, err
	}
	correction, err := cds.corrector.PredictCorrectedHbA1c(rec)
	if err != nil {
		return nil, err
	}

	core := &assessmentCore{
		anomaly:    *anomaly,
		disorder:   *disorder,
		correction: *correction,
		validity:   Reconcile(*anomaly, *disorder, *correction, cds.thresholds),
	}

	result := newAssessment(rec.PatientID, core)

	cds.logger.WithFields(logrus.Fields{
		"patient_id":    rec.PatientID,
		"assessment_id": result.AssessmentID,
		"is_reliable":   core.validity.IsReliable,
		"disorder":      disorder.PredictedCategory,
		"anomaly_score": anomaly.AnomalyScore,
		"delta":         correction.Delta,
	}).Info("Completed test result assessment")

	if cds.cache != nil {
		cds.cache.Add(key, core)
	}
	return result, nil
}

// newAssessment assembles a result from the cached model outputs with a
// fresh assessment identity.
func newAssessment(patientID string, core *assessmentCore) *domain.AssessmentResult {
	return &domain.AssessmentResult{
		AssessmentID: uuid.New().String(),
		PatientID:    patientID,
		Anomaly:      core.anomaly,
		Disorder:     core.disorder,
		Correction:   core.correction,
		TestValidity: core.validity,
	}
}

// DetectAnomaly exposes the anomaly detector for direct ad-hoc queries.
func (cds *ClinicalDecisionSupport) DetectAnomaly(rec *domain.PatientRecord) (*domain.AnomalyResult, error) {
	return cds.anomaly.DetectAnomaly(rec)
}

// PredictDisorder exposes the disorder classifier for direct ad-hoc queries.
func (cds *ClinicalDecisionSupport) PredictDisorder(rec *domain.PatientRecord) (*domain.DisorderPrediction, error) {
	return cds.classifier.PredictDisorder(rec)
}

// PredictCorrectedHbA1c exposes the corrector for direct ad-hoc queries.
func (cds *ClinicalDecisionSupport) PredictCorrectedHbA1c(rec *domain.PatientRecord) (*domain.CorrectionResult, error) {
	return cds.corrector.PredictCorrectedHbA1c(rec)
}

// ModelInfo describes the trained model set.
func (cds *ClinicalDecisionSupport) ModelInfo() (*domain.ModelInfo, error) {
	if !cds.trained {
		return nil, &domain.ModelNotTrainedError{}
	}
	categories := make([]string, 0, len(cds.classifier.Categories()))
	for _, c := range cds.classifier.Categories() {
		categories = append(categories, c.String())
	}
	return &domain.ModelInfo{
		AnomalyDetector: domain.ModelStatus{
			Trained: cds.anomaly.IsTrained(),
			Kind:    cds.anomaly.Kind(),
		},
		DisorderClassifier: domain.ModelStatus{
			Trained:    cds.classifier.IsTrained(),
			Kind:       cds.classifier.Kind(),
			Categories: categories,
		},
		HbA1cCorrector: domain.ModelStatus{
			Trained: cds.corrector.IsTrained(),
			Kind:    cds.corrector.Kind(),
		},
		TrainingDataSize: cds.trainingSize,
	}, nil
}

// recordKey is a content hash of the canonical JSON encoding of a record.
func recordKey(rec *domain.PatientRecord) string {
	data, err := json.Marshal(rec)
	if err != nil {
		return rec.PatientID
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
