package service

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/domain"
	"github.com/hba1c-validation-server/internal/model"
)

// ReadyState is the tri-state readiness signal shared between the background
// training task and foreground request handlers.
type ReadyState string

const (
	StateInitializing ReadyState = "initializing"
	StateHealthy      ReadyState = "healthy"
	StateFailed       ReadyState = "failed"
)

// snapshot is an immutable view of the trainer's state. Readers always see
// a consistent snapshot; the pointer is swapped atomically and never
// mutated in place.
type snapshot struct {
	state  ReadyState
	reason string
	cds    *ClinicalDecisionSupport
}

// Trainer runs the one-shot model training in the background so the HTTP
// port can bind immediately. While training runs, inference-dependent calls
// are rejected with a retryable error; a training failure latches
// permanently until process restart.
type Trainer struct {
	logger *logrus.Logger
	cfg    *domain.Config
	state  atomic.Pointer[snapshot]
}

// NewTrainer creates a trainer in the initializing state.
func NewTrainer(logger *logrus.Logger, cfg *domain.Config) *Trainer {
	t := &Trainer{logger: logger, cfg: cfg}
	t.state.Store(&snapshot{state: StateInitializing})
	return t
}

// Start launches the background training goroutine. done, if non-nil, is
// closed when training finishes either way; tests use it to avoid polling.
func (t *Trainer) Start(done chan<- struct{}) {
	go func() {
		if done != nil {
			defer close(done)
		}
		t.train()
	}()
}

// train generates the synthetic corpus, fits the models, and publishes the
// resulting state exactly once.
func (t *Trainer) train() {
	defer func() {
		if r := recover(); r != nil {
			t.fail(fmt.Sprintf("training panicked: %v", r))
		}
	}()

	t.logger.WithFields(logrus.Fields{
		"training_size": t.cfg.Training.Size,
		"seed":          t.cfg.Training.Seed,
	}).Info("Starting background model training")

	generator := model.NewSyntheticPatientGenerator(t.logger, t.cfg.Training.Seed)
	examples := generator.Generate(t.cfg.Training.Size)

	cds := NewClinicalDecisionSupport(t.logger, t.cfg.Thresholds, t.cfg.Cache)
	if err := cds.InitializeModels(examples); err != nil {
		t.fail(err.Error())
		return
	}

	t.state.Store(&snapshot{state: StateHealthy, cds: cds})
	t.logger.Info("Model training complete, service is ready")
}

// fail latches the failed state. It never reverts.
func (t *Trainer) fail(reason string) {
	t.state.Store(&snapshot{state: StateFailed, reason: reason})
	t.logger.WithField("reason", reason).Error("Model training failed")
}

// State returns the current readiness state and, when failed, the reason.
func (t *Trainer) State() (ReadyState, string) {
	s := t.state.Load()
	return s.state, s.reason
}

// CDS returns the trained decision-support instance, or the classified
// error matching the current readiness state.
func (t *Trainer) CDS() (*ClinicalDecisionSupport, error) {
	s := t.state.Load()
	switch s.state {
	case StateHealthy:
		return s.cds, nil
	case StateFailed:
		return nil, &domain.TrainingFailedError{Reason: s.reason}
	default:
		return nil, &domain.ModelNotTrainedError{}
	}
}
