// Package web provides HTTP request and response types for the saga API.
package web

import (
	"time"

	"github.com/tandemhq/tandem/pkg/models"
)

// StartSagaRequest represents the request body for starting a saga.
type StartSagaRequest struct {
	DefinitionName string         `json:"definition_name" validate:"required,min=1"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
}

// StartSagaResponse acknowledges an accepted saga. Execution is
// asynchronous; poll GET /sagas/:id for progress.
type StartSagaResponse struct {
	SagaID         string            `json:"saga_id"`
	DefinitionName string            `json:"definition_name"`
	Status         models.SagaStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StepOutcomeResponse represents one recorded step outcome.
type StepOutcomeResponse struct {
	StepName  string               `json:"step_name"`
	Phase     models.StepPhase     `json:"phase"`
	Status    models.OutcomeStatus `json:"status"`
	ErrorKind models.ErrorKind     `json:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// SagaResponse represents the full state of a saga instance.
type SagaResponse struct {
	SagaID           string                `json:"saga_id"`
	DefinitionName   string                `json:"definition_name"`
	Status           models.SagaStatus     `json:"status"`
	CurrentStepIndex int                   `json:"current_step_index"`
	CancelRequested  bool                  `json:"cancel_requested"`
	PartialRollback  bool                  `json:"partial_rollback"`
	Context          map[string]any        `json:"context,omitempty"`
	StepOutcomes     []StepOutcomeResponse `json:"step_outcomes"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// TransformSagaResponse converts a saga instance into its API shape.
func TransformSagaResponse(instance *models.SagaInstance) SagaResponse {
	outcomes := make([]StepOutcomeResponse, 0, len(instance.StepOutcomes))
	for _, outcome := range instance.StepOutcomes {
		outcomes = append(outcomes, StepOutcomeResponse{
			StepName:  outcome.StepName,
			Phase:     outcome.Phase,
			Status:    outcome.Status,
			ErrorKind: outcome.ErrorKind,
			Error:     outcome.Error,
			Timestamp: outcome.Timestamp,
		})
	}

	return SagaResponse{
		SagaID:           instance.ID,
		DefinitionName:   instance.DefinitionName,
		Status:           instance.Status,
		CurrentStepIndex: instance.CurrentStepIndex,
		CancelRequested:  instance.CancelRequested,
		PartialRollback:  instance.PartialRollback,
		Context:          instance.Context,
		StepOutcomes:     outcomes,
		CreatedAt:        instance.CreatedAt,
		UpdatedAt:        instance.UpdatedAt,
	}
}
