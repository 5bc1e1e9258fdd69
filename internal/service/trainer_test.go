package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hba1c-validation-server/internal/domain"
)

func trainerConfig(size int) *domain.Config {
	return &domain.Config{
		Training:   domain.TrainingConfig{Size: size, Seed: 42},
		Thresholds: testThresholds(),
	}
}

func waitForTraining(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("training did not finish in time")
	}
}

func TestTrainer_StartsInitializing(t *testing.T) {
	trainer := NewTrainer(testLogger(), trainerConfig(200))

	state, reason := trainer.State()
	assert.Equal(t, StateInitializing, state)
	assert.Empty(t, reason)

	_, err := trainer.CDS()
	var notTrained *domain.ModelNotTrainedError
	assert.ErrorAs(t, err, &notTrained)
}

func TestTrainer_BecomesHealthy(t *testing.T) {
	trainer := NewTrainer(testLogger(), trainerConfig(200))

	done := make(chan struct{})
	trainer.Start(done)
	waitForTraining(t, done)

	state, reason := trainer.State()
	assert.Equal(t, StateHealthy, state)
	assert.Empty(t, reason)

	cds, err := trainer.CDS()
	require.NoError(t, err)
	assert.True(t, cds.IsTrained())

	result, err := cds.AssessTestResult(healthyRecord())
	require.NoError(t, err)
	assert.True(t, result.TestValidity.IsReliable)
}

func TestTrainer_FailureLatches(t *testing.T) {
	// A zero-size corpus makes model fitting fail deterministically.
	trainer := NewTrainer(testLogger(), trainerConfig(0))

	done := make(chan struct{})
	trainer.Start(done)
	waitForTraining(t, done)

	state, reason := trainer.State()
	assert.Equal(t, StateFailed, state)
	assert.NotEmpty(t, reason)

	_, err := trainer.CDS()
	var failed *domain.TrainingFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, reason, failed.Reason)

	// Failed state never reverts.
	state, _ = trainer.State()
	assert.Equal(t, StateFailed, state)
}
