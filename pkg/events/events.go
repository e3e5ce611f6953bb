// Package events defines event types and structures for saga lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/tandemhq/tandem/pkg/models"
)

type EventType string

// Kafka topic carrying every saga event.
const Topic = "tandem.saga.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Dispatch event consumed by workers.
	SagaStartedEvent EventType = "saga.started"

	// Step lifecycle events.
	StepSucceededEvent   EventType = "saga.step.succeeded"
	StepFailedEvent      EventType = "saga.step.failed"
	StepCompensatedEvent EventType = "saga.step.compensated"

	// Status transition into the unwind.
	SagaCompensatingEvent EventType = "saga.compensating"

	// Terminal saga events.
	SagaCompletedEvent   EventType = "saga.completed"
	SagaCompensatedEvent EventType = "saga.compensated"
	SagaFailedEvent      EventType = "saga.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SagaID    string         `json:"saga_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, sagaID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SagaID:    sagaID,
	}
}

// SagaStarted asks a worker to drive the instance. Published by the API on
// start and by the recovery sweeper on resume.
type SagaStarted struct {
	BaseEvent

	DefinitionName string         `json:"definition_name"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
	Resumed        bool           `json:"resumed,omitempty"`
}

func (s SagaStarted) GetType() EventType {
	return SagaStartedEvent
}

type StepSucceeded struct {
	BaseEvent

	StepName  string         `json:"step_name"`
	StepIndex int            `json:"step_index"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (s StepSucceeded) GetType() EventType {
	return StepSucceededEvent
}

type StepFailed struct {
	BaseEvent

	StepName  string           `json:"step_name"`
	StepIndex int              `json:"step_index"`
	ErrorKind models.ErrorKind `json:"error_kind"`
	Error     string           `json:"error,omitempty"`
}

func (s StepFailed) GetType() EventType {
	return StepFailedEvent
}

// StepCompensated reports one compensation outcome during the unwind,
// including skipped and failed compensations.
type StepCompensated struct {
	BaseEvent

	StepName string               `json:"step_name"`
	Status   models.OutcomeStatus `json:"status"`
	Error    string               `json:"error,omitempty"`
}

func (s StepCompensated) GetType() EventType {
	return StepCompensatedEvent
}

// SagaCompensating marks the switch from forward execution to the unwind.
// Published when a cancellation request is observed at a step boundary;
// step failures carry the same transition inside their StepFailed event.
type SagaCompensating struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (s SagaCompensating) GetType() EventType {
	return SagaCompensatingEvent
}

type SagaCompleted struct {
	BaseEvent

	StepsExecuted int            `json:"steps_executed"`
	FinalContext  map[string]any `json:"final_context,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

func (s SagaCompleted) GetType() EventType {
	return SagaCompletedEvent
}

// SagaCompensated is terminal: the unwind finished. PartialRollback tells
// consumers that at least one succeeded step had no compensation and the
// rollback is best-effort, not complete.
type SagaCompensated struct {
	BaseEvent

	PartialRollback bool          `json:"partial_rollback"`
	Duration        time.Duration `json:"duration"`
}

func (s SagaCompensated) GetType() EventType {
	return SagaCompensatedEvent
}

// SagaFailed is terminal: one or more compensations errored during the
// unwind and manual intervention is required.
type SagaFailed struct {
	BaseEvent

	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (s SagaFailed) GetType() EventType {
	return SagaFailedEvent
}
