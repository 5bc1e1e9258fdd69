package model

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
)

// varianceFloor keeps near-constant dimensions (and missingness bits) from
// dominating the Gaussian likelihood.
const varianceFloor = 1e-3

// DisorderClassifier is a Gaussian naive Bayes multi-class model over the
// fixed disorder category set. Predictions are deterministic: probability
// ties break by the fixed category priority order from DisorderCategories.
type DisorderClassifier struct {
	logger     *logrus.Logger
	vectorizer *FeatureVectorizer

	classes   []domain.Disorder
	logPriors map[domain.Disorder]float64
	means     map[domain.Disorder][]float64
	variances map[domain.Disorder][]float64
	trained   bool
}

// NewDisorderClassifier creates an unfitted classifier sharing the
// orchestrator's vectorizer.
func NewDisorderClassifier(logger *logrus.Logger, vectorizer *FeatureVectorizer) *DisorderClassifier {
	return &DisorderClassifier{
		logger:     logger,
		vectorizer: vectorizer,
		classes:    domain.DisorderCategories(),
	}
}

// IsTrained reports whether Fit has completed.
func (c *DisorderClassifier) IsTrained() bool {
	return c.trained
}

// Kind returns the model kind for the model-info endpoint.
func (c *DisorderClassifier) Kind() string {
	return "Gaussian Naive Bayes Classifier"
}

// Categories returns the fixed category set in priority order.
func (c *DisorderClassifier) Categories() []domain.Disorder {
	return c.classes
}

// Fit estimates per-class feature distributions and priors from the labeled
// training corpus.
func (c *DisorderClassifier) Fit(examples []domain.TrainingExample) error {
	grouped := make(map[domain.Disorder][]domain.FeatureVector)
	for i := range examples {
		vec, err := c.vectorizer.Vectorize(&examples[i].Record)
		if err != nil {
			return err
		}
		grouped[examples[i].Disorder] = append(grouped[examples[i].Disorder], vec)
	}

	logPriors := make(map[domain.Disorder]float64, len(c.classes))
	means := make(map[domain.Disorder][]float64, len(c.classes))
	variances := make(map[domain.Disorder][]float64, len(c.classes))
	total := float64(len(examples))

	for _, class := range c.classes {
		vectors := grouped[class]
		if len(vectors) == 0 {
			return domain.NewInvalidRecordError("training corpus has no examples for category " + class.String())
		}
		// Laplace-style smoothing on the prior keeps log probabilities finite.
		logPriors[class] = math.Log((float64(len(vectors)) + 1) / (total + float64(len(c.classes))))

		mean := make([]float64, featureDim)
		variance := make([]float64, featureDim)
		n := float64(len(vectors))
		for dim := 0; dim < featureDim; dim++ {
			var sum float64
			for _, vec := range vectors {
				sum += vec[dim]
			}
			mean[dim] = sum / n
			var ss float64
			for _, vec := range vectors {
				diff := vec[dim] - mean[dim]
				ss += diff * diff
			}
			variance[dim] = ss/n + varianceFloor
		}
		means[class] = mean
		variances[class] = variance
	}

	c.logPriors = logPriors
	c.means = means
	c.variances = variances
	c.trained = true

	c.logger.WithFields(logrus.Fields{
		"examples": len(examples),
		"classes":  len(c.classes),
	}).Info("Fitted disorder classifier")

	return nil
}

// PredictDisorder returns the most probable disorder category with a full
// probability distribution over the category set.
func (c *DisorderClassifier) PredictDisorder(rec *domain.PatientRecord) (*domain.DisorderPrediction, error) {
	if !c.trained {
		return nil, &domain.ModelNotTrainedError{Model: "disorder_classifier"}
	}
	vec, err := c.vectorizer.Vectorize(rec)
	if err != nil {
		return nil, err
	}

	logPosteriors := make([]float64, len(c.classes))
	for i, class := range c.classes {
		logPosteriors[i] = c.logPriors[class] + c.logLikelihood(vec, class)
	}

	probs := softmax(logPosteriors)

	// Highest probability wins; a strict comparison means an exact tie
	// resolves to the earlier entry in the fixed priority order.
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	probabilities := make(map[domain.Disorder]float64, len(c.classes))
	for i, class := range c.classes {
		probabilities[class] = round3(probs[i])
	}

	return &domain.DisorderPrediction{
		PredictedCategory: c.classes[best],
		Probabilities:     probabilities,
		Confidence:        round3(probs[best]),
	}, nil
}

// logLikelihood is the diagonal-Gaussian log density of the vector under the
// class distribution.
func (c *DisorderClassifier) logLikelihood(vec domain.FeatureVector, class domain.Disorder) float64 {
	mean := c.means[class]
	variance := c.variances[class]
	var ll float64
	for dim := 0; dim < featureDim; dim++ {
		diff := vec[dim] - mean[dim]
		ll += -0.5*math.Log(2*math.Pi*variance[dim]) - diff*diff/(2*variance[dim])
	}
	return ll
}

// softmax converts log posteriors to a normalized probability distribution
// using the log-sum-exp shift for numeric stability.
func softmax(logs []float64) []float64 {
	maxLog := logs[0]
	for _, l := range logs[1:] {
		if l > maxLog {
			maxLog = l
		}
	}
	probs := make([]float64, len(logs))
	var sum float64
	for i, l := range logs {
		probs[i] = math.Exp(l - maxLog)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
