package model

import (
	"math"

	"github.com/hba1c-validation-server/internal/domain"
)

// Feature-vector layout: required values, optional values (imputed when
// absent), gender encoding, then one missingness bit per optional field.
var (
	numScaled  = len(requiredFields) + len(optionalFields) + 1
	featureDim = numScaled + len(optionalFields)
)

// FeatureVectorizer maps a PatientRecord to a fixed-shape numeric vector.
// Standardization parameters are fit once on the synthetic training corpus;
// after Fit, Vectorize is a pure function of the record.
type FeatureVectorizer struct {
	mean   []float64
	std    []float64
	fitted bool
}

// NewFeatureVectorizer creates an unfitted vectorizer.
func NewFeatureVectorizer() *FeatureVectorizer {
	return &FeatureVectorizer{}
}

// IsFitted reports whether scaling parameters have been fit.
func (v *FeatureVectorizer) IsFitted() bool {
	return v.fitted
}

// Fit derives per-dimension standardization parameters from the training
// corpus. Missingness bits are left unscaled.
func (v *FeatureVectorizer) Fit(examples []domain.TrainingExample) error {
	if len(examples) == 0 {
		return domain.NewInvalidRecordError("cannot fit vectorizer on empty training corpus")
	}

	mean := make([]float64, numScaled)
	std := make([]float64, numScaled)

	raws := make([][]float64, 0, len(examples))
	for i := range examples {
		rec := examples[i].Record
		if err := ValidateRecord(&rec); err != nil {
			return err
		}
		raws = append(raws, rawFeatures(&rec))
	}

	n := float64(len(raws))
	for d := 0; d < numScaled; d++ {
		var sum float64
		for _, raw := range raws {
			sum += raw[d]
		}
		mean[d] = sum / n

		var ss float64
		for _, raw := range raws {
			diff := raw[d] - mean[d]
			ss += diff * diff
		}
		std[d] = math.Sqrt(ss / n)
		if std[d] < 1e-6 {
			std[d] = 1e-6
		}
	}

	v.mean = mean
	v.std = std
	v.fitted = true
	return nil
}

// Vectorize converts a record into a standardized feature vector. Missing
// optional fields are imputed with population-typical defaults and flagged
// via their missingness bit; missing or out-of-range required fields fail
// with InvalidRecordError.
func (v *FeatureVectorizer) Vectorize(rec *domain.PatientRecord) (domain.FeatureVector, error) {
	if !v.fitted {
		return nil, &domain.ModelNotTrainedError{Model: "feature_vectorizer"}
	}
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}

	raw := rawFeatures(rec)
	out := make(domain.FeatureVector, featureDim)
	for d := 0; d < numScaled; d++ {
		out[d] = (raw[d] - v.mean[d]) / v.std[d]
	}
	copy(out[numScaled:], raw[numScaled:])
	return out, nil
}

// ValidateRecord checks the patient identifier and the required fields:
// present, numeric and within a physically possible range. Optional fields
// never fail validation.
func ValidateRecord(rec *domain.PatientRecord) error {
	var missing, outOfRange []string
	if rec.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	for _, f := range requiredFields {
		val := f.get(rec)
		switch {
		case !val.Present || math.IsNaN(val.Value):
			missing = append(missing, f.name)
		case val.Value <= f.min || val.Value > f.max:
			outOfRange = append(outOfRange, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.NewInvalidRecordError("missing required fields", missing...)
	}
	if len(outOfRange) > 0 {
		return domain.NewInvalidRecordError("required fields out of physiological range", outOfRange...)
	}
	return nil
}

// rawFeatures builds the unscaled feature array for a record.
func rawFeatures(rec *domain.PatientRecord) []float64 {
	raw := make([]float64, featureDim)
	i := 0
	for _, f := range requiredFields {
		raw[i] = f.get(rec).Value
		i++
	}
	for _, f := range optionalFields {
		raw[i] = f.get(rec).Or(f.def)
		i++
	}
	raw[i] = encodeGender(rec.Gender)
	i++
	for _, f := range optionalFields {
		if !f.get(rec).Present {
			raw[i] = 1
		}
		i++
	}
	return raw
}

// encodeGender maps the categorical gender field to a numeric feature.
// Unknown or absent gender sits between the two coded values.
func encodeGender(g string) float64 {
	switch g {
	case "F", "f", "female":
		return 1
	case "M", "m", "male":
		return 0
	default:
		return 0.5
	}
}

// featureNames returns human-readable names aligned with feature dimensions.
func featureNames() []string {
	names := make([]string, 0, featureDim)
	for _, f := range requiredFields {
		names = append(names, f.name)
	}
	for _, f := range optionalFields {
		names = append(names, f.name)
	}
	names = append(names, "gender")
	for _, f := range optionalFields {
		names = append(names, f.name+"_missing")
	}
	return names
}

// observedScaled reports, per scaled dimension, whether the record actually
// carried the underlying value (required fields and gender always count,
// optional fields only when present).
func observedScaled(rec *domain.PatientRecord) []bool {
	obs := make([]bool, numScaled)
	i := 0
	for range requiredFields {
		obs[i] = true
		i++
	}
	for _, f := range optionalFields {
		obs[i] = f.get(rec).Present
		i++
	}
	obs[i] = rec.Gender != ""
	return obs
}
