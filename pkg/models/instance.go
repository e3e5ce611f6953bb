package models

import (
	"time"

	"github.com/google/uuid"
)

// SagaStatus represents the lifecycle state of a saga instance.
type SagaStatus string

const (
	SagaStatusRunning      SagaStatus = "running"
	SagaStatusCompleted    SagaStatus = "completed"    // Terminal, every step succeeded
	SagaStatusCompensating SagaStatus = "compensating" // Unwinding previously succeeded steps
	SagaStatusCompensated  SagaStatus = "compensated"  // Terminal, unwind succeeded
	SagaStatusFailed       SagaStatus = "failed"       // Terminal, unwind could not complete
)

// IsTerminal reports whether no further transition is permitted.
func (s SagaStatus) IsTerminal() bool {
	return s == SagaStatusCompleted || s == SagaStatusCompensated || s == SagaStatusFailed
}

// OutcomeStatus is the per-step result recorded in the outcome log.
type OutcomeStatus string

const (
	OutcomeSuccess     OutcomeStatus = "success"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeCompensated OutcomeStatus = "compensated"
	OutcomeSkipped     OutcomeStatus = "skipped"
)

// StepPhase distinguishes forward execution from compensation in the
// outcome log.
type StepPhase string

const (
	PhaseForward      StepPhase = "forward"
	PhaseCompensation StepPhase = "compensation"
)

// ErrorKind classifies why a step invocation failed. CircuitOpen means the
// dependency was deemed unhealthy and the call was never attempted; Timeout
// means the call exceeded its bound and its outcome is unknown; ActionError
// means the action itself reported failure.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindCircuitOpen ErrorKind = "circuit_open"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindActionError ErrorKind = "action_error"
)

// StepOutcome is one entry of a saga instance's append-only outcome log.
type StepOutcome struct {
	StepName  string         `json:"step_name"`
	Phase     StepPhase      `json:"phase"`
	Status    OutcomeStatus  `json:"status"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SagaInstance is the durable record of a running saga: the single source
// of truth for recovery after a crash. It is mutated exclusively by the
// orchestrator, one mutation per step transition, each persisted before the
// next step is attempted.
type SagaInstance struct {
	ID               string         `json:"id"`
	DefinitionName   string         `json:"definition_name"`
	Status           SagaStatus     `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	StepOutcomes     []StepOutcome  `json:"step_outcomes"`
	Context          map[string]any `json:"context"`

	// CancelRequested asks the orchestrator to start compensating at the
	// next step boundary. Cancellation is cooperative, never preemptive.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// PartialRollback is set when the unwind had to skip a succeeded step
	// that declared no compensation: the saga still terminates as
	// compensated, but full rollback was not achievable.
	PartialRollback bool `json:"partial_rollback,omitempty"`

	// Version implements optimistic concurrency: every persisted mutation
	// increments it, and updates are rejected unless the caller holds the
	// current value.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSagaInstance creates a fresh instance for the named definition.
func NewSagaInstance(definitionName string, initialContext map[string]any) *SagaInstance {
	if initialContext == nil {
		initialContext = make(map[string]any)
	}

	now := time.Now().UTC()

	return &SagaInstance{
		ID:             uuid.New().String(),
		DefinitionName: definitionName,
		Status:         SagaStatusRunning,
		StepOutcomes:   []StepOutcome{},
		Context:        initialContext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecordForwardSuccess appends a forward SUCCESS outcome, merges the step's
// payload into the saga context, and advances the step cursor.
func (s *SagaInstance) RecordForwardSuccess(stepName string, payload map[string]any) {
	s.StepOutcomes = append(s.StepOutcomes, StepOutcome{
		StepName:  stepName,
		Phase:     PhaseForward,
		Status:    OutcomeSuccess,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})

	for k, v := range payload {
		s.Context[k] = v
	}

	s.CurrentStepIndex++
	s.touch()
}

// RecordForwardFailure appends a forward FAILED outcome and moves the saga
// into compensation.
func (s *SagaInstance) RecordForwardFailure(stepName string, kind ErrorKind, cause string) {
	s.StepOutcomes = append(s.StepOutcomes, StepOutcome{
		StepName:  stepName,
		Phase:     PhaseForward,
		Status:    OutcomeFailed,
		ErrorKind: kind,
		Error:     cause,
		Timestamp: time.Now().UTC(),
	})

	s.Status = SagaStatusCompensating
	s.touch()
}

// BeginCompensation transitions a running saga into compensation without a
// step failure (external cancellation).
func (s *SagaInstance) BeginCompensation() {
	s.Status = SagaStatusCompensating
	s.touch()
}

// RecordCompensation appends a compensation-phase outcome for the named step.
func (s *SagaInstance) RecordCompensation(stepName string, status OutcomeStatus, kind ErrorKind, cause string) {
	s.StepOutcomes = append(s.StepOutcomes, StepOutcome{
		StepName:  stepName,
		Phase:     PhaseCompensation,
		Status:    status,
		ErrorKind: kind,
		Error:     cause,
		Timestamp: time.Now().UTC(),
	})

	if status == OutcomeSkipped {
		s.PartialRollback = true
	}

	s.touch()
}

// Finish moves the saga to a terminal status.
func (s *SagaInstance) Finish(status SagaStatus) {
	now := time.Now().UTC()
	s.Status = status
	s.CompletedAt = &now
	s.touch()
}

// ForwardSuccesses returns the forward SUCCESS outcomes in execution order.
func (s *SagaInstance) ForwardSuccesses() []StepOutcome {
	successes := make([]StepOutcome, 0, len(s.StepOutcomes))

	for _, outcome := range s.StepOutcomes {
		if outcome.Phase == PhaseForward && outcome.Status == OutcomeSuccess {
			successes = append(successes, outcome)
		}
	}

	return successes
}

// CompensationOutcome returns the compensation-phase entry for the named
// step, if one was already recorded. Resumption uses this to never re-run a
// compensation that already reached a terminal per-step outcome.
func (s *SagaInstance) CompensationOutcome(stepName string) (StepOutcome, bool) {
	for _, outcome := range s.StepOutcomes {
		if outcome.Phase == PhaseCompensation && outcome.StepName == stepName {
			return outcome, true
		}
	}

	return StepOutcome{}, false
}

// CompensationFailed reports whether any compensation in the unwind errored.
func (s *SagaInstance) CompensationFailed() bool {
	for _, outcome := range s.StepOutcomes {
		if outcome.Phase == PhaseCompensation && outcome.Status == OutcomeFailed {
			return true
		}
	}

	return false
}

func (s *SagaInstance) touch() {
	s.UpdatedAt = time.Now().UTC()
}
