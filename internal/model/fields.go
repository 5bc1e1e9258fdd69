// Package model implements the decision-support models: feature
// vectorization, synthetic training-data generation, anomaly detection,
// disorder classification and HbA1c correction.
package model

import (
	"github.com/hba1c-validation-server/internal/domain"
)

// NormalRBCLifespanDays is the physiological red-blood-cell lifespan the
// HbA1c assay implicitly assumes.
const NormalRBCLifespanDays = 120.0

// requiredField describes one mandatory record field with its physically
// possible range. Values outside the range are rejected, not clamped.
type requiredField struct {
	name     string
	min, max float64
	get      func(*domain.PatientRecord) domain.OptFloat
}

// optionalField describes one optional numeric field: its wire name, the
// population-typical default imputed when the value is absent, and an
// accessor. Order here fixes the feature-vector layout.
type optionalField struct {
	name string
	def  float64
	get  func(*domain.PatientRecord) domain.OptFloat
}

var requiredFields = []requiredField{
	{"hba1c", 0, 20, func(r *domain.PatientRecord) domain.OptFloat { return r.HbA1c }},
	{"fasting_glucose", 0, 1000, func(r *domain.PatientRecord) domain.OptFloat { return r.FastingGlucose }},
	{"haemoglobin", 0, 25, func(r *domain.PatientRecord) domain.OptFloat { return r.Haemoglobin }},
}

// Defaults are adult reference-interval midpoints.
var optionalFields = []optionalField{
	{"random_glucose", 110, func(r *domain.PatientRecord) domain.OptFloat { return r.RandomGlucose }},
	{"ogtt_2hr", 120, func(r *domain.PatientRecord) domain.OptFloat { return r.OGTT2hr }},
	{"avg_glucose_cgm", 110, func(r *domain.PatientRecord) domain.OptFloat { return r.AvgGlucoseCGM }},
	{"rbc_count", 4.8, func(r *domain.PatientRecord) domain.OptFloat { return r.RBCCount }},
	{"mcv", 90, func(r *domain.PatientRecord) domain.OptFloat { return r.MCV }},
	{"mch", 30, func(r *domain.PatientRecord) domain.OptFloat { return r.MCH }},
	{"mchc", 34, func(r *domain.PatientRecord) domain.OptFloat { return r.MCHC }},
	{"reticulocyte_count", 1.2, func(r *domain.PatientRecord) domain.OptFloat { return r.ReticulocyteCount }},
	{"wbc_count", 7.0, func(r *domain.PatientRecord) domain.OptFloat { return r.WBCCount }},
	{"platelet_count", 275, func(r *domain.PatientRecord) domain.OptFloat { return r.PlateletCount }},
	{"serum_iron", 100, func(r *domain.PatientRecord) domain.OptFloat { return r.SerumIron }},
	{"ferritin", 100, func(r *domain.PatientRecord) domain.OptFloat { return r.Ferritin }},
	{"transferrin_saturation", 30, func(r *domain.PatientRecord) domain.OptFloat { return r.TransferrinSaturation }},
	{"tibc", 330, func(r *domain.PatientRecord) domain.OptFloat { return r.TIBC }},
	{"bilirubin", 0.7, func(r *domain.PatientRecord) domain.OptFloat { return r.Bilirubin }},
	{"ldh", 180, func(r *domain.PatientRecord) domain.OptFloat { return r.LDH }},
	{"haptoglobin", 120, func(r *domain.PatientRecord) domain.OptFloat { return r.Haptoglobin }},
	{"age", 45, func(r *domain.PatientRecord) domain.OptFloat { return r.Age }},
	{"rbc_lifespan_days", NormalRBCLifespanDays, func(r *domain.PatientRecord) domain.OptFloat { return r.RBCLifespanDays }},
}

// RequiredFieldNames returns the wire names of the mandatory record fields.
func RequiredFieldNames() []string {
	names := make([]string, len(requiredFields))
	for i, f := range requiredFields {
		names[i] = f.name
	}
	return names
}

// OptionalFieldNames returns the wire names of the optional numeric fields
// in feature-vector order.
func OptionalFieldNames() []string {
	names := make([]string, len(optionalFields))
	for i, f := range optionalFields {
		names[i] = f.name
	}
	return names
}
