package model

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
)

// AnomalyDetector scores how far a record's lab profile lies from the
// distribution of normal profiles. It fits per-dimension statistics over the
// "none"-labeled training vectors and scores records by root-mean-square
// standardized deviation, so the score is monotonic in each field's distance
// from typical.
type AnomalyDetector struct {
	logger     *logrus.Logger
	vectorizer *FeatureVectorizer

	mean      []float64
	std       []float64
	threshold float64
	trained   bool
}

// NewAnomalyDetector creates an unfitted detector sharing the orchestrator's
// vectorizer.
func NewAnomalyDetector(logger *logrus.Logger, vectorizer *FeatureVectorizer) *AnomalyDetector {
	return &AnomalyDetector{logger: logger, vectorizer: vectorizer}
}

// IsTrained reports whether Fit has completed.
func (d *AnomalyDetector) IsTrained() bool {
	return d.trained
}

// Kind returns the model kind for the model-info endpoint.
func (d *AnomalyDetector) Kind() string {
	return "Standardized Deviation Detector"
}

// Fit learns the typical feature distribution from the "none"-labeled
// examples and derives the anomaly threshold as the given quantile of the
// normal corpus's own scores.
func (d *AnomalyDetector) Fit(examples []domain.TrainingExample, thresholdQuantile float64) error {
	vectors := make([]domain.FeatureVector, 0, len(examples))
	for i := range examples {
		if examples[i].Disorder != domain.DisorderNone {
			continue
		}
		vec, err := d.vectorizer.Vectorize(&examples[i].Record)
		if err != nil {
			return err
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) == 0 {
		return domain.NewInvalidRecordError("no normal examples in training corpus")
	}

	d.mean = make([]float64, numScaled)
	d.std = make([]float64, numScaled)
	n := float64(len(vectors))
	for dim := 0; dim < numScaled; dim++ {
		var sum float64
		for _, vec := range vectors {
			sum += vec[dim]
		}
		d.mean[dim] = sum / n
		var ss float64
		for _, vec := range vectors {
			diff := vec[dim] - d.mean[dim]
			ss += diff * diff
		}
		d.std[dim] = math.Sqrt(ss / n)
		if d.std[dim] < 1e-6 {
			d.std[dim] = 1e-6
		}
	}

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		scores[i] = d.score(vec)
	}
	sort.Float64s(scores)
	idx := int(thresholdQuantile * float64(len(scores)-1))
	d.threshold = scores[idx]
	d.trained = true

	d.logger.WithFields(logrus.Fields{
		"normal_examples": len(vectors),
		"threshold":       d.threshold,
		"quantile":        thresholdQuantile,
	}).Info("Fitted anomaly detector")

	return nil
}

// DetectAnomaly scores a record against the fitted normal distribution and
// names the fields that pushed it away from typical, most deviant first.
// Only fields actually observed in the record are reported as contributors.
func (d *AnomalyDetector) DetectAnomaly(rec *domain.PatientRecord) (*domain.AnomalyResult, error) {
	if !d.trained {
		return nil, &domain.ModelNotTrainedError{Model: "anomaly_detector"}
	}
	vec, err := d.vectorizer.Vectorize(rec)
	if err != nil {
		return nil, err
	}

	score := d.score(vec)
	factors := d.contributingFactors(rec, vec)

	return &domain.AnomalyResult{
		AnomalyScore:        round3(score),
		IsAnomalous:         score > d.threshold,
		Threshold:           round3(d.threshold),
		ContributingFactors: factors,
	}, nil
}

// Threshold returns the fit-time-derived anomaly cutoff.
func (d *AnomalyDetector) Threshold() float64 {
	return d.threshold
}

// score is the RMS of per-dimension standardized deviations over the scaled
// value dimensions. Imputed fields sit near the population mean, so absence
// never inflates the score; missingness bits are deliberately excluded.
func (d *AnomalyDetector) score(vec domain.FeatureVector) float64 {
	var ss float64
	for dim := 0; dim < numScaled; dim++ {
		z := (vec[dim] - d.mean[dim]) / d.std[dim]
		ss += z * z
	}
	return math.Sqrt(ss / float64(numScaled))
}

// contributingFactors ranks observed fields by |z| and returns the ones
// deviating more than two standard deviations, capped at five.
func (d *AnomalyDetector) contributingFactors(rec *domain.PatientRecord, vec domain.FeatureVector) []string {
	names := featureNames()
	observed := observedScaled(rec)

	type deviation struct {
		name string
		absZ float64
	}
	devs := make([]deviation, 0, numScaled)
	for dim := 0; dim < numScaled; dim++ {
		if !observed[dim] {
			continue
		}
		z := math.Abs((vec[dim] - d.mean[dim]) / d.std[dim])
		if z > 2.0 {
			devs = append(devs, deviation{name: names[dim], absZ: z})
		}
	}
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].absZ != devs[j].absZ {
			return devs[i].absZ > devs[j].absZ
		}
		return devs[i].name < devs[j].name
	})

	factors := make([]string, 0, 5)
	for _, dv := range devs {
		factors = append(factors, dv.name)
		if len(factors) == 5 {
			break
		}
	}
	return factors
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
