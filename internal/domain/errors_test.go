package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidRecordError(t *testing.T) {
	err := NewInvalidRecordError("missing required fields", "fasting_glucose", "haemoglobin")

	assert.Equal(t, "missing required fields: fasting_glucose, haemoglobin", err.Error())
	assert.Equal(t, []string{"fasting_glucose", "haemoglobin"}, err.Fields)

	// Field-less variant keeps just the message.
	bare := NewInvalidRecordError("record is empty")
	assert.Equal(t, "record is empty", bare.Error())
}

func TestErrorTaxonomyDistinguishable(t *testing.T) {
	var invalid *InvalidRecordError
	var notTrained *ModelNotTrainedError
	var failed *TrainingFailedError

	wrapped := fmt.Errorf("assessing record: %w", NewInvalidRecordError("bad field", "hba1c"))
	assert.True(t, errors.As(wrapped, &invalid))
	assert.False(t, errors.As(wrapped, &notTrained))
	assert.False(t, errors.As(wrapped, &failed))

	wrapped = fmt.Errorf("serving request: %w", &ModelNotTrainedError{Model: "anomaly_detector"})
	assert.True(t, errors.As(wrapped, &notTrained))
	assert.Equal(t, "anomaly_detector", notTrained.Model)

	wrapped = fmt.Errorf("serving request: %w", &TrainingFailedError{Reason: "corpus empty"})
	assert.True(t, errors.As(wrapped, &failed))
	assert.Contains(t, failed.Error(), "corpus empty")
}

func TestModelNotTrainedError_Message(t *testing.T) {
	assert.Equal(t, "models are not trained yet", (&ModelNotTrainedError{}).Error())
	assert.Equal(t, "model corrector is not trained yet", (&ModelNotTrainedError{Model: "corrector"}).Error())
}
