package domain

import (
	"fmt"
	"strings"
)

// InvalidRecordError reports a patient record that cannot be processed:
// required fields missing or non-numeric, or values outside a physically
// possible range. Always user-correctable; Fields names the offenders.
type InvalidRecordError struct {
	Fields  []string
	Message string
}

// Error implements the error interface.
func (e *InvalidRecordError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
	}
	return e.Message
}

// NewInvalidRecordError creates an InvalidRecordError naming the offending fields.
func NewInvalidRecordError(message string, fields ...string) *InvalidRecordError {
	return &InvalidRecordError{Fields: fields, Message: message}
}

// ModelNotTrainedError reports an inference request made before model fitting
// completed. Transient and retryable, distinct from InvalidRecordError.
type ModelNotTrainedError struct {
	Model string
}

// Error implements the error interface.
func (e *ModelNotTrainedError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("model %s is not trained yet", e.Model)
	}
	return "models are not trained yet"
}

// TrainingFailedError reports a training failure latched for the process
// lifetime. Every subsequent request returns it until restart.
type TrainingFailedError struct {
	Reason string
}

// Error implements the error interface.
func (e *TrainingFailedError) Error() string {
	return fmt.Sprintf("model initialization failed: %s", e.Reason)
}
