// Package domain contains core business entities and types for HbA1c test
// validation and blood-disorder detection.
//
// HbA1c (glycated haemoglobin) reflects average blood glucose over roughly
// three months, but the measurement assumes a normal red-blood-cell lifespan
// of ~120 days. Haemoglobinopathies and haemolytic conditions shorten that
// lifespan and systematically distort the reading.
package domain

import (
	"encoding/json"
	"reflect"
)

// Disorder represents a blood-disorder category that can distort an HbA1c
// measurement. The set is closed; DisorderCategories lists it in priority
// order.
type Disorder string

const (
	DisorderNone           Disorder = "none"
	DisorderIronDeficiency Disorder = "iron_deficiency"
	DisorderThalassemia    Disorder = "thalassemia"
	DisorderSickleCell     Disorder = "sickle_cell"
	DisorderG6PD           Disorder = "g6pd"
)

// DisorderCategories returns the closed category set in classifier tie-break
// priority order: higher-prevalence categories first, so an exact probability
// tie resolves toward the more common diagnosis.
func DisorderCategories() []Disorder {
	return []Disorder{
		DisorderNone,
		DisorderIronDeficiency,
		DisorderThalassemia,
		DisorderSickleCell,
		DisorderG6PD,
	}
}

// IsValid validates that the disorder is one of the closed category set.
func (d Disorder) IsValid() bool {
	switch d {
	case DisorderNone, DisorderIronDeficiency, DisorderThalassemia, DisorderSickleCell, DisorderG6PD:
		return true
	default:
		return false
	}
}

// String returns the string representation of the disorder category.
func (d Disorder) String() string {
	return string(d)
}

// ClinicalSignificance returns a human-readable description of the disorder
// for clinical reporting.
func (d Disorder) ClinicalSignificance() string {
	switch d {
	case DisorderNone:
		return "No blood disorder detected - HbA1c measurement basis is normal"
	case DisorderIronDeficiency:
		return "Iron deficiency anaemia - altered erythropoiesis may bias HbA1c"
	case DisorderThalassemia:
		return "Thalassemia - shortened RBC lifespan distorts HbA1c"
	case DisorderSickleCell:
		return "Sickle cell disease - haemolysis severely shortens RBC lifespan"
	case DisorderG6PD:
		return "G6PD deficiency - episodic haemolysis shortens RBC lifespan"
	default:
		return "Unknown disorder category"
	}
}

// OptFloat is a numeric lab value that may be absent from a patient record.
// Absence is explicit rather than a default zero so every consumer must
// handle it, and so the models can distinguish "value equals the population
// average" from "value was never measured".
type OptFloat struct {
	Value   float64
	Present bool
}

// Some returns a present OptFloat.
func Some(v float64) OptFloat {
	return OptFloat{Value: v, Present: true}
}

// Or returns the value if present, else the supplied default.
func (o OptFloat) Or(def float64) float64 {
	if o.Present {
		return o.Value
	}
	return def
}

// MarshalJSON encodes a present value as a plain JSON number and an absent
// value as null, so no internal wrapper type leaks into responses.
func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Present {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON accepts a JSON number or null. A missing key leaves the zero
// value (absent), so decoding a partial record never fails. A non-numeric
// value is reported as an UnmarshalTypeError so the decoder attaches the
// offending field's name and callers can map it into the error taxonomy.
func (o *OptFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OptFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return &json.UnmarshalTypeError{Value: jsonValueKind(data), Type: reflect.TypeOf(o.Value)}
	}
	*o = OptFloat{Value: v, Present: true}
	return nil
}

// jsonValueKind names the JSON value kind for type-error messages.
func jsonValueKind(data []byte) string {
	if len(data) == 0 {
		return "empty value"
	}
	switch data[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	default:
		return "malformed number"
	}
}

// PatientRecord is a single laboratory result set for one patient.
// HbA1c, FastingGlucose and Haemoglobin are required; everything else is
// optional and its absence must never cause a hard failure downstream.
// The Disorder field is a training label only and is never trusted as ground
// truth at inference time.
type PatientRecord struct {
	PatientID string `json:"patient_id"`

	// Required measurements
	HbA1c          OptFloat `json:"hba1c"`
	FastingGlucose OptFloat `json:"fasting_glucose"`
	Haemoglobin    OptFloat `json:"haemoglobin"`

	// Optional glucose measurements
	RandomGlucose OptFloat `json:"random_glucose"`
	OGTT2hr       OptFloat `json:"ogtt_2hr"`
	AvgGlucoseCGM OptFloat `json:"avg_glucose_cgm"`

	// Optional red-cell indices
	RBCCount          OptFloat `json:"rbc_count"`
	MCV               OptFloat `json:"mcv"`
	MCH               OptFloat `json:"mch"`
	MCHC              OptFloat `json:"mchc"`
	ReticulocyteCount OptFloat `json:"reticulocyte_count"`
	WBCCount          OptFloat `json:"wbc_count"`
	PlateletCount     OptFloat `json:"platelet_count"`

	// Optional iron studies
	SerumIron             OptFloat `json:"serum_iron"`
	Ferritin              OptFloat `json:"ferritin"`
	TransferrinSaturation OptFloat `json:"transferrin_saturation"`
	TIBC                  OptFloat `json:"tibc"`

	// Optional haemolysis markers
	Bilirubin   OptFloat `json:"bilirubin"`
	LDH         OptFloat `json:"ldh"`
	Haptoglobin OptFloat `json:"haptoglobin"`

	// Optional demographics and context
	Age             OptFloat `json:"age"`
	RBCLifespanDays OptFloat `json:"rbc_lifespan_days"`
	Gender          string   `json:"gender,omitempty"`
	Disorder        Disorder `json:"disorder,omitempty"`
}

// FeatureVector is a fixed-length ordered numeric representation of a
// PatientRecord: standardized values followed by one missingness indicator
// per optional field.
type FeatureVector []float64

// TrainingExample pairs a synthetic PatientRecord with its ground truth.
// Produced only by the synthetic generator and consumed once at fit time.
type TrainingExample struct {
	Record    PatientRecord
	Disorder  Disorder
	TrueHbA1c float64
}

// AnomalyResult is the anomaly detector's judgment of a single record.
type AnomalyResult struct {
	AnomalyScore        float64  `json:"anomaly_score"`
	IsAnomalous         bool     `json:"is_anomalous"`
	Threshold           float64  `json:"threshold"`
	ContributingFactors []string `json:"contributing_factors"`
}

// DisorderPrediction is the classifier's judgment of a single record.
// Probabilities covers every category and sums to 1.
type DisorderPrediction struct {
	PredictedCategory Disorder             `json:"predicted_category"`
	Probabilities     map[Disorder]float64 `json:"probabilities"`
	Confidence        float64              `json:"confidence"`
}

// CorrectionResult is the corrector's bias-adjusted HbA1c estimate.
// ReportedHbA1c is echoed unchanged; CorrectedHbA1c is a separate field.
type CorrectionResult struct {
	ReportedHbA1c   float64 `json:"reported_hba1c"`
	CorrectedHbA1c  float64 `json:"corrected_hba1c"`
	Delta           float64 `json:"delta"`
	RBCLifespanDays float64 `json:"rbc_lifespan_days"`
	LifespanSource  string  `json:"lifespan_source"` // "observed" or "imputed"
	Rationale       string  `json:"rationale"`
}

// TestValidity is the combined reliability verdict with the specific
// conditions that failed, if any.
type TestValidity struct {
	IsReliable bool     `json:"is_reliable"`
	Reasoning  []string `json:"reasoning"`
}

// AssessmentResult is the full decision-support output for one record.
// Created fresh per request and never mutated afterwards.
type AssessmentResult struct {
	AssessmentID string             `json:"assessment_id"`
	PatientID    string             `json:"patient_id"`
	Anomaly      AnomalyResult      `json:"anomaly_detection"`
	Disorder     DisorderPrediction `json:"disorder_prediction"`
	Correction   CorrectionResult   `json:"hba1c_correction"`
	TestValidity TestValidity       `json:"test_validity"`
}

// ModelStatus describes one fitted sub-model for the model-info endpoint.
type ModelStatus struct {
	Trained    bool     `json:"trained"`
	Kind       string   `json:"type"`
	Categories []string `json:"categories,omitempty"`
}

// ModelInfo describes the full trained model set.
type ModelInfo struct {
	AnomalyDetector    ModelStatus `json:"anomaly_detector"`
	DisorderClassifier ModelStatus `json:"disorder_classifier"`
	HbA1cCorrector     ModelStatus `json:"hba1c_corrector"`
	TrainingDataSize   int         `json:"training_data_size"`
}
