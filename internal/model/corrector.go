package model

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
)

// corrector regression uses a small fixed design: intercept, reported HbA1c,
// its interaction with lifespan deviation, and the deviation itself. The
// interaction term carries the learnable lifespan bias signal.
const correctorFeatures = 4

// ridgeLambda regularizes the normal equations; the design matrix is tiny,
// so a light penalty suffices for conditioning.
const ridgeLambda = 1e-3

// HbA1cCorrector is a ridge-regression model predicting the physiologically
// corrected HbA1c. Correction magnitude scales with how far the RBC lifespan
// deviates from the normal 120 days; when lifespan is unobserved it is
// imputed from the classifier's disorder prediction.
type HbA1cCorrector struct {
	logger     *logrus.Logger
	vectorizer *FeatureVectorizer
	classifier *DisorderClassifier

	weights         []float64
	lifespanByClass map[domain.Disorder]float64
	trained         bool
}

// NewHbA1cCorrector creates an unfitted corrector. The classifier supplies
// the disorder context when a record carries no observed lifespan.
func NewHbA1cCorrector(logger *logrus.Logger, vectorizer *FeatureVectorizer, classifier *DisorderClassifier) *HbA1cCorrector {
	return &HbA1cCorrector{
		logger:     logger,
		vectorizer: vectorizer,
		classifier: classifier,
	}
}

// IsTrained reports whether Fit has completed.
func (c *HbA1cCorrector) IsTrained() bool {
	return c.trained
}

// Kind returns the model kind for the model-info endpoint.
func (c *HbA1cCorrector) Kind() string {
	return "Ridge Regression Corrector"
}

// Fit solves the ridge normal equations against the ground-truth corrected
// HbA1c and learns per-disorder mean lifespans for imputation.
func (c *HbA1cCorrector) Fit(examples []domain.TrainingExample) error {
	if len(examples) == 0 {
		return domain.NewInvalidRecordError("cannot fit corrector on empty training corpus")
	}

	c.lifespanByClass = meanLifespans(examples)

	xtx := make([][]float64, correctorFeatures)
	for i := range xtx {
		xtx[i] = make([]float64, correctorFeatures)
	}
	xty := make([]float64, correctorFeatures)

	for i := range examples {
		rec := examples[i].Record
		if err := ValidateRecord(&rec); err != nil {
			return err
		}
		lifespan := rec.RBCLifespanDays.Or(c.lifespanByClass[examples[i].Disorder])
		x := c.designRow(&rec, lifespan)
		y := examples[i].TrueHbA1c
		for a := 0; a < correctorFeatures; a++ {
			for b := 0; b < correctorFeatures; b++ {
				xtx[a][b] += x[a] * x[b]
			}
			xty[a] += x[a] * y
		}
	}
	for a := 0; a < correctorFeatures; a++ {
		xtx[a][a] += ridgeLambda
	}

	weights, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return fmt.Errorf("failed to solve corrector normal equations: %w", err)
	}
	c.weights = weights
	c.trained = true

	c.logger.WithFields(logrus.Fields{
		"examples": len(examples),
		"weights":  weights,
	}).Info("Fitted HbA1c corrector")

	return nil
}

// PredictCorrectedHbA1c estimates the bias-corrected HbA1c for a record.
// The reported value is echoed unchanged alongside the correction.
func (c *HbA1cCorrector) PredictCorrectedHbA1c(rec *domain.PatientRecord) (*domain.CorrectionResult, error) {
	if !c.trained {
		return nil, &domain.ModelNotTrainedError{Model: "hba1c_corrector"}
	}
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}

	lifespan, source, err := c.resolveLifespan(rec)
	if err != nil {
		return nil, err
	}

	x := c.designRow(rec, lifespan)
	corrected := 0.0
	for i, w := range c.weights {
		corrected += w * x[i]
	}
	corrected = clamp(corrected, 2.0, 20.0)

	reported := rec.HbA1c.Value
	delta := round2(corrected - reported)

	return &domain.CorrectionResult{
		ReportedHbA1c:   reported,
		CorrectedHbA1c:  round2(corrected),
		Delta:           delta,
		RBCLifespanDays: round1(lifespan),
		LifespanSource:  source,
		Rationale:       correctionRationale(lifespan, source, delta),
	}, nil
}

// resolveLifespan takes the observed RBC lifespan when present, otherwise
// imputes it from the classifier's disorder prediction.
func (c *HbA1cCorrector) resolveLifespan(rec *domain.PatientRecord) (float64, string, error) {
	if rec.RBCLifespanDays.Present {
		return rec.RBCLifespanDays.Value, "observed", nil
	}
	prediction, err := c.classifier.PredictDisorder(rec)
	if err != nil {
		return 0, "", err
	}
	lifespan, ok := c.lifespanByClass[prediction.PredictedCategory]
	if !ok {
		lifespan = NormalRBCLifespanDays
	}
	return lifespan, "imputed", nil
}

// designRow builds the regression features for one record.
func (c *HbA1cCorrector) designRow(rec *domain.PatientRecord, lifespan float64) []float64 {
	reported := rec.HbA1c.Value
	deviation := (NormalRBCLifespanDays - lifespan) / NormalRBCLifespanDays
	return []float64{1, reported, reported * deviation, deviation}
}

// meanLifespans computes the mean observed RBC lifespan per disorder label,
// falling back to physiological reference values for labels with no
// observed lifespan in the corpus.
func meanLifespans(examples []domain.TrainingExample) map[domain.Disorder]float64 {
	sums := make(map[domain.Disorder]float64)
	counts := make(map[domain.Disorder]int)
	for i := range examples {
		if !examples[i].Record.RBCLifespanDays.Present {
			continue
		}
		sums[examples[i].Disorder] += examples[i].Record.RBCLifespanDays.Value
		counts[examples[i].Disorder]++
	}

	reference := map[domain.Disorder]float64{
		domain.DisorderNone:           116,
		domain.DisorderIronDeficiency: 108,
		domain.DisorderThalassemia:    75,
		domain.DisorderSickleCell:     45,
		domain.DisorderG6PD:           80,
	}

	out := make(map[domain.Disorder]float64, len(reference))
	for _, class := range domain.DisorderCategories() {
		if counts[class] > 0 {
			out[class] = sums[class] / float64(counts[class])
		} else {
			out[class] = reference[class]
		}
	}
	return out
}

// correctionRationale renders a human-readable explanation of the correction.
func correctionRationale(lifespan float64, source string, delta float64) string {
	deviation := NormalRBCLifespanDays - lifespan
	if math.Abs(deviation) < 5 && math.Abs(delta) < 0.15 {
		return fmt.Sprintf("RBC lifespan %.0f days (%s) is near the normal %.0f days; no clinically meaningful correction required",
			lifespan, source, NormalRBCLifespanDays)
	}
	direction := "underestimates"
	if delta < 0 {
		direction = "overestimates"
	}
	return fmt.Sprintf("RBC lifespan %.0f days (%s) deviates %.0f days from the normal %.0f; reported HbA1c likely %s true glycemic control by %.2f points",
		lifespan, source, math.Abs(deviation), NormalRBCLifespanDays, direction, math.Abs(delta))
}

// solveLinearSystem solves Ax = b by Gaussian elimination with partial
// pivoting. A is modified in place.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}
