package service

import (
	"fmt"
	"math"

	"github.com/hba1c-validation-server/internal/domain"
)

// Reconcile combines the three sub-model results into the reliability
// verdict. A test is reliable only if all of:
//
//	(a) the anomaly score is below the fit-time threshold,
//	(b) the top disorder category is "none", or its confidence is below the
//	    actionable minimum,
//	(c) the reported-vs-corrected delta is within the clinically
//	    insignificant bound.
//
// Every violated condition is recorded in the reasoning. Pure function of
// already-computed results, so it is testable apart from model fitting.
func Reconcile(anomaly domain.AnomalyResult, disorder domain.DisorderPrediction, correction domain.CorrectionResult, thresholds domain.ThresholdsConfig) domain.TestValidity {
	var reasons []string

	if anomaly.IsAnomalous {
		reasons = append(reasons, fmt.Sprintf(
			"anomalous lab profile: anomaly score %.3f exceeds threshold %.3f (contributing factors: %s)",
			anomaly.AnomalyScore, anomaly.Threshold, joinFactors(anomaly.ContributingFactors)))
	}

	if disorder.PredictedCategory != domain.DisorderNone && disorder.Confidence >= thresholds.DisorderConfidence {
		reasons = append(reasons, fmt.Sprintf(
			"probable blood disorder: %s predicted with confidence %.2f (actionable above %.2f)",
			disorder.PredictedCategory, disorder.Confidence, thresholds.DisorderConfidence))
	}

	if math.Abs(correction.Delta) > thresholds.HbA1cDelta {
		reasons = append(reasons, fmt.Sprintf(
			"significant HbA1c correction: reported %.1f vs corrected %.1f (delta %+.2f exceeds %.2f)",
			correction.ReportedHbA1c, correction.CorrectedHbA1c, correction.Delta, thresholds.HbA1cDelta))
	}

	if len(reasons) == 0 {
		return domain.TestValidity{
			IsReliable: true,
			Reasoning:  []string{"no anomaly detected, no actionable disorder predicted, and correction delta is clinically insignificant"},
		}
	}
	return domain.TestValidity{IsReliable: false, Reasoning: reasons}
}

func joinFactors(factors []string) string {
	if len(factors) == 0 {
		return "none identified"
	}
	out := factors[0]
	for _, f := range factors[1:] {
		out += ", " + f
	}
	return out
}
