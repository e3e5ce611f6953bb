// Package orchestrator drives saga instances through their definitions:
// forward step execution, best-effort reverse compensation, and terminal
// status selection. Every state transition is persisted before the next
// step is attempted, so a crashed run can always be resumed from the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tandemhq/tandem/pkg/breaker"
	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/events"
	"github.com/tandemhq/tandem/pkg/executor"
	"github.com/tandemhq/tandem/pkg/lock"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/otelhelper"
	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/protocol"
	"github.com/tandemhq/tandem/pkg/registry"
)

const (
	defaultLeaseTTL    = 5 * time.Minute
	persistMaxAttempts = 3
)

// ErrLeaseLost reports that another worker advanced the saga while this
// run still believed it held the lease. The run stops without writing; the
// successor's record stands.
var ErrLeaseLost = errors.New("saga lease lost")

type Orchestrator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	executor    *executor.Executor
	publisher   eventbus.EventPublisher
	locks       lock.Locker
	workerID    string
	leaseTTL    time.Duration
	tracer      trace.Tracer
}

func NewOrchestrator(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	executor *executor.Executor,
	publisher eventbus.EventPublisher,
	locks lock.Locker,
	workerID string,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger.With("module", "orchestrator"),
		persistence: persistence,
		registry:    registry,
		executor:    executor,
		publisher:   publisher,
		locks:       locks,
		workerID:    workerID,
		leaseTTL:    defaultLeaseTTL,
		tracer:      noop.NewTracerProvider().Tracer("orchestrator"),
	}
}

// SetTracer replaces the default no-op tracer with a real one so step
// executions show up as spans under the caller's trace.
func (o *Orchestrator) SetTracer(tracer trace.Tracer) {
	o.tracer = tracer
}

// Run drives the saga instance until it reaches a terminal status or a
// storage failure halts processing. It is safe to re-invoke on an instance
// in any state: terminal instances are left untouched, non-terminal ones
// resume from their persisted position. The per-saga lease guarantees no
// two workers advance the same instance concurrently.
func (o *Orchestrator) Run(ctx context.Context, sagaID string) error {
	release, err := o.locks.Acquire(ctx, sagaID, o.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lease for saga %s: %w", sagaID, err)
	}
	defer release()

	instance, err := o.persistence.Sagas().GetByID(ctx, sagaID)
	if err != nil {
		return fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}

	if instance.Status.IsTerminal() {
		return nil
	}

	definition, err := o.registry.Definition(instance.DefinitionName)
	if err != nil {
		return fmt.Errorf("saga %s: %w", sagaID, err)
	}

	logger := o.logger.With("saga_id", sagaID, "definition", instance.DefinitionName)

	if instance.Status == models.SagaStatusRunning {
		err = o.runForward(ctx, logger, definition, instance)
		if err != nil {
			return err
		}
	}

	if instance.Status == models.SagaStatusCompensating {
		err = o.compensate(ctx, logger, definition, instance)
		if err != nil {
			return err
		}
	}

	return nil
}

// runForward executes steps strictly in definition order. Each outcome is
// durably persisted before the next step is attempted.
func (o *Orchestrator) runForward(ctx context.Context, logger *slog.Logger, definition *models.SagaDefinition, instance *models.SagaInstance) error {
	for instance.Status == models.SagaStatusRunning && instance.CurrentStepIndex < len(definition.Steps) {
		if instance.CancelRequested {
			logger.InfoContext(ctx, "Cancellation requested, starting compensation")
			instance.BeginCompensation()

			err := o.persist(ctx, instance)
			if err != nil {
				return err
			}

			event := events.SagaCompensating{
				BaseEvent: o.baseEvent(events.SagaCompensatingEvent, instance.ID),
				Reason:    "cancel_requested",
			}
			o.publish(ctx, logger, instance.ID, event)

			return nil
		}

		step := definition.Steps[instance.CurrentStepIndex]
		stepIndex := instance.CurrentStepIndex

		logger.InfoContext(ctx, "Executing step", "step", step.Name, "step_index", stepIndex)

		result := o.executeStep(ctx, step, models.PhaseForward, o.stepContext(instance, step.Name))

		if result.Success {
			instance.RecordForwardSuccess(step.Name, result.Payload)

			err := o.persist(ctx, instance)
			if err != nil {
				return err
			}

			event := events.StepSucceeded{
				BaseEvent: o.baseEvent(events.StepSucceededEvent, instance.ID),
				StepName:  step.Name,
				StepIndex: stepIndex,
				Payload:   result.Payload,
			}
			o.publish(ctx, logger, instance.ID, event)

			continue
		}

		instance.RecordForwardFailure(step.Name, result.Kind, result.Cause)

		err := o.persist(ctx, instance)
		if err != nil {
			return err
		}

		event := events.StepFailed{
			BaseEvent: o.baseEvent(events.StepFailedEvent, instance.ID),
			StepName:  step.Name,
			StepIndex: stepIndex,
			ErrorKind: result.Kind,
			Error:     result.Cause,
		}
		o.publish(ctx, logger, instance.ID, event)
	}

	if instance.Status == models.SagaStatusRunning {
		instance.Finish(models.SagaStatusCompleted)

		err := o.persist(ctx, instance)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Saga completed", "steps", len(definition.Steps))

		event := events.SagaCompleted{
			BaseEvent:     o.baseEvent(events.SagaCompletedEvent, instance.ID),
			StepsExecuted: len(definition.Steps),
			FinalContext:  instance.Context,
			Duration:      time.Since(instance.CreatedAt),
		}
		o.publish(ctx, logger, instance.ID, event)
	}

	return nil
}

// compensate unwinds previously succeeded steps in reverse order. The
// unwind is best-effort: a failed compensation is recorded and drives the
// terminal status to FAILED, but every remaining compensable step is still
// attempted so external state is not left stuck behind the first failure.
// Steps whose compensation already has a recorded outcome are never re-run.
func (o *Orchestrator) compensate(ctx context.Context, logger *slog.Logger, definition *models.SagaDefinition, instance *models.SagaInstance) error {
	successes := instance.ForwardSuccesses()

	for i := len(successes) - 1; i >= 0; i-- {
		stepName := successes[i].StepName

		if _, done := instance.CompensationOutcome(stepName); done {
			continue
		}

		step := stepByName(definition, stepName)

		var (
			status models.OutcomeStatus
			kind   models.ErrorKind
			cause  string
		)

		if step == nil {
			// The definition no longer knows this step; the success cannot
			// be undone.
			status = models.OutcomeFailed
			kind = models.ErrorKindActionError
			cause = fmt.Sprintf("step %s not found in definition", stepName)
		} else {
			logger.InfoContext(ctx, "Compensating step", "step", stepName)

			result := o.executeStep(ctx, step, models.PhaseCompensation, o.stepContext(instance, stepName))

			switch {
			case result.Skipped:
				status = models.OutcomeSkipped
			case result.Success:
				status = models.OutcomeCompensated
			default:
				status = models.OutcomeFailed
				kind = result.Kind
				cause = result.Cause
			}
		}

		instance.RecordCompensation(stepName, status, kind, cause)

		err := o.persist(ctx, instance)
		if err != nil {
			return err
		}

		event := events.StepCompensated{
			BaseEvent: o.baseEvent(events.StepCompensatedEvent, instance.ID),
			StepName:  stepName,
			Status:    status,
			Error:     cause,
		}
		o.publish(ctx, logger, instance.ID, event)
	}

	return o.finishCompensation(ctx, logger, instance)
}

func (o *Orchestrator) finishCompensation(ctx context.Context, logger *slog.Logger, instance *models.SagaInstance) error {
	if instance.CompensationFailed() {
		instance.Finish(models.SagaStatusFailed)

		err := o.persist(ctx, instance)
		if err != nil {
			return err
		}

		logger.ErrorContext(ctx, "Saga failed: compensation could not complete, manual intervention required")

		event := events.SagaFailed{
			BaseEvent: o.baseEvent(events.SagaFailedEvent, instance.ID),
			Error:     "one or more compensations failed",
			Duration:  time.Since(instance.CreatedAt),
		}
		o.publish(ctx, logger, instance.ID, event)

		return nil
	}

	instance.Finish(models.SagaStatusCompensated)

	err := o.persist(ctx, instance)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Saga compensated", "partial_rollback", instance.PartialRollback)

	event := events.SagaCompensated{
		BaseEvent:       o.baseEvent(events.SagaCompensatedEvent, instance.ID),
		PartialRollback: instance.PartialRollback,
		Duration:        time.Since(instance.CreatedAt),
	}
	o.publish(ctx, logger, instance.ID, event)

	return nil
}

// persist writes the instance through the compare-and-set update. The only
// writer allowed to conflict with a leased run is the cancellation
// endpoint, which flips CancelRequested; on a version conflict from it the
// flag is merged from the fresh record and the write retried. A conflict
// showing any other difference means the lease expired and a successor
// took over, and the run aborts with ErrLeaseLost rather than overwrite
// the successor's record. Storage unavailability is fatal for this run: no
// forward progress happens without successful persistence, which keeps the
// instance safely resumable.
func (o *Orchestrator) persist(ctx context.Context, instance *models.SagaInstance) error {
	repo := o.persistence.Sagas()

	var err error

	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		err = repo.Update(ctx, instance)
		if err == nil {
			return nil
		}

		if !persistence.IsVersionConflict(err) {
			return fmt.Errorf("failed to persist saga %s: %w", instance.ID, err)
		}

		fresh, getErr := repo.GetByID(ctx, instance.ID)
		if getErr != nil {
			return fmt.Errorf("failed to reload saga %s after version conflict: %w", instance.ID, getErr)
		}

		if leaseTaken(instance, fresh) {
			return fmt.Errorf("saga %s advanced by another worker: %w", instance.ID, ErrLeaseLost)
		}

		instance.CancelRequested = instance.CancelRequested || fresh.CancelRequested
		instance.Version = fresh.Version
	}

	return fmt.Errorf("failed to persist saga %s: %w", instance.ID, err)
}

// leaseTaken reports whether the conflicting writer was another worker
// rather than the cancellation endpoint. Cancellation only flips
// CancelRequested: it never appends outcomes, moves the cursor, or changes
// status. The stored status may trail the in-memory one by the pending
// transition, never lead it.
func leaseTaken(instance, fresh *models.SagaInstance) bool {
	if fresh.Status.IsTerminal() {
		return true
	}

	if fresh.CurrentStepIndex > instance.CurrentStepIndex {
		return true
	}

	if len(fresh.StepOutcomes) > len(instance.StepOutcomes) {
		return true
	}

	if fresh.Status == models.SagaStatusCompensating && instance.Status == models.SagaStatusRunning {
		return true
	}

	return false
}

// publish emits a lifecycle event after a persisted transition. The store
// is the source of truth; a publish failure is logged, never fatal.
func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, sagaID string, event eventbus.Event) {
	err := o.publisher.Publish(ctx, sagaID, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}

func (o *Orchestrator) baseEvent(eventType events.EventType, sagaID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, sagaID)
	base.WorkerID = o.workerID

	return base
}

// executeStep runs one invocation inside a span carrying the step identity.
func (o *Orchestrator) executeStep(ctx context.Context, step *models.StepDefinition, phase models.StepPhase, stepCtx protocol.StepContext) executor.Result {
	spanCtx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.step",
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepPhaseKey, string(phase)),
		attribute.String(otelhelper.DependencyKeyKey, step.DependencyKey),
	)
	defer span.End()

	var result executor.Result
	if phase == models.PhaseForward {
		result = o.executor.ExecuteForward(spanCtx, step, stepCtx)
	} else {
		result = o.executor.ExecuteCompensation(spanCtx, step, stepCtx)
	}

	if result.Kind == models.ErrorKindCircuitOpen {
		span.SetAttributes(attribute.String(otelhelper.BreakerStateKey, string(breaker.StateOpen)))
	}

	if !result.Success && !result.Skipped {
		otelhelper.SetError(span, errors.New(result.Cause))
	}

	return result
}

// stepContext hands the handler its own copy of the saga context. A
// straggler that outlives its deadline writes into a map nobody reads;
// the state the orchestrator keeps merging and persisting stays clean.
func (o *Orchestrator) stepContext(instance *models.SagaInstance, stepName string) protocol.StepContext {
	return protocol.StepContext{
		SagaID:   instance.ID,
		StepName: stepName,
		Context:  maps.Clone(instance.Context),
	}
}

func stepByName(definition *models.SagaDefinition, name string) *models.StepDefinition {
	for _, step := range definition.Steps {
		if step.Name == name {
			return step
		}
	}

	return nil
}
