package services

import (
	"context"
	"fmt"

	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/events"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/registry"
)

// ErrSagaNotFound is returned when a saga instance is not found.
var ErrSagaNotFound = persistence.ErrSagaNotFound

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Saga coordinates saga lifecycle operations: starting new instances,
// reporting their state, and requesting cancellation. Execution itself is
// the orchestrator's job; the service only persists intent and announces
// it on the event bus.
type Saga struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
}

// NewSaga creates a new saga service.
func NewSaga(persistence persistence.Persistence, registry *registry.Registry, publisher eventbus.EventPublisher) *Saga {
	return &Saga{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Saga) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartSagaRequest carries the input for starting a new saga instance.
type StartSagaRequest struct {
	DefinitionName string         `json:"definition_name" validate:"required"`
	InitialContext map[string]any `json:"initial_context"`
}

// StartSaga creates a new RUNNING instance of a registered definition and
// publishes the event that hands it to a worker. The returned instance has
// its assigned saga ID but no step outcomes yet.
func (s *Saga) StartSaga(ctx context.Context, req StartSagaRequest) (*models.SagaInstance, error) {
	if req.DefinitionName == "" {
		return nil, ErrDefinitionNameRequired
	}

	_, err := s.registry.Definition(req.DefinitionName)
	if err != nil {
		return nil, NewValidationError("start_saga", "DEFINITION_NOT_REGISTERED",
			fmt.Sprintf("saga definition '%s' is not registered", req.DefinitionName),
			ErrDefinitionNotRegistered)
	}

	err = s.registry.ValidateContext(req.DefinitionName, req.InitialContext)
	if err != nil {
		return nil, NewValidationError("start_saga", "INVALID_INITIAL_CONTEXT",
			err.Error(), ErrInvalidInitialContext)
	}

	instance := models.NewSagaInstance(req.DefinitionName, req.InitialContext)

	err = s.persistence.Sagas().Create(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create saga instance: %w", err)
	}

	event := events.SagaStarted{
		BaseEvent:      events.NewBaseEvent(events.SagaStartedEvent, instance.ID),
		DefinitionName: instance.DefinitionName,
		InitialContext: instance.Context,
	}

	err = s.publisher.Publish(ctx, instance.ID, event)
	if err != nil {
		// The instance is durable; the recovery sweeper will re-dispatch
		// it if no worker ever picks it up.
		return instance, fmt.Errorf("saga %s created but dispatch failed: %w", instance.ID, err)
	}

	return instance, nil
}

// GetSaga retrieves a saga instance by ID.
func (s *Saga) GetSaga(ctx context.Context, sagaID string) (*models.SagaInstance, error) {
	instance, err := s.persistence.Sagas().GetByID(ctx, sagaID)
	if err != nil {
		if persistence.IsSagaNotFound(err) {
			return nil, ErrSagaNotFound
		}

		return nil, fmt.Errorf("failed to get saga %s: %w", sagaID, err)
	}

	return instance, nil
}

// CancelSaga records a cancellation request. The running worker honors it
// at the next step boundary; steps already in flight are not interrupted.
// Cancelling an already-cancelled saga is a no-op, cancelling a terminal
// one is a conflict.
func (s *Saga) CancelSaga(ctx context.Context, sagaID string) (*models.SagaInstance, error) {
	repo := s.persistence.Sagas()

	for {
		instance, err := repo.GetByID(ctx, sagaID)
		if err != nil {
			if persistence.IsSagaNotFound(err) {
				return nil, ErrSagaNotFound
			}

			return nil, fmt.Errorf("failed to get saga %s: %w", sagaID, err)
		}

		if instance.Status.IsTerminal() {
			return nil, &ServiceError{
				Op:      "cancel_saga",
				Code:    "SAGA_FINISHED",
				Message: fmt.Sprintf("saga %s is already %s", sagaID, instance.Status),
				Err:     ErrSagaFinished,
			}
		}

		if instance.CancelRequested {
			return instance, nil
		}

		instance.CancelRequested = true

		err = repo.Update(ctx, instance)
		if err == nil {
			return instance, nil
		}

		// The worker advanced the instance between our read and write;
		// re-read and retry against the fresh version.
		if persistence.IsVersionConflict(err) {
			continue
		}

		return nil, fmt.Errorf("failed to cancel saga %s: %w", sagaID, err)
	}
}

// ListSagasRequest contains options for listing saga instances.
type ListSagasRequest struct {
	Limit  int
	Offset int
	Status *models.SagaStatus
}

// ListSagasResponse contains the result of listing saga instances.
type ListSagasResponse struct {
	Sagas       []*models.SagaInstance `json:"sagas"`
	TotalCount  int64                  `json:"total_count"`
	HasNextPage bool                   `json:"has_next_page"`
}

// ListSagas retrieves saga instances with filtering and pagination, newest
// first.
func (s *Saga) ListSagas(ctx context.Context, req ListSagasRequest) (*ListSagasResponse, error) {
	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != nil && !validStatus(*req.Status) {
		return nil, ErrInvalidStatus
	}

	result, err := s.persistence.Sagas().ListSagas(ctx, persistence.ListSagasOptions{
		Limit:  req.Limit,
		Offset: req.Offset,
		Status: req.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}

	return &ListSagasResponse{
		Sagas:       result.Sagas,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// DefinitionNames lists the registered saga definitions.
func (s *Saga) DefinitionNames() []string {
	return s.registry.DefinitionNames()
}

func validStatus(status models.SagaStatus) bool {
	switch status {
	case models.SagaStatusRunning,
		models.SagaStatusCompleted,
		models.SagaStatusCompensating,
		models.SagaStatusCompensated,
		models.SagaStatusFailed:
		return true
	}

	return false
}
