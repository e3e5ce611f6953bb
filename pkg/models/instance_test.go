package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemhq/tandem/pkg/models"
)

func TestSagaStatusIsTerminal(t *testing.T) {
	assert.False(t, models.SagaStatusRunning.IsTerminal())
	assert.False(t, models.SagaStatusCompensating.IsTerminal())
	assert.True(t, models.SagaStatusCompleted.IsTerminal())
	assert.True(t, models.SagaStatusCompensated.IsTerminal())
	assert.True(t, models.SagaStatusFailed.IsTerminal())
}

func TestNewSagaInstance(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", map[string]any{"order_id": "ord-1"})

	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, models.SagaStatusRunning, instance.Status)
	assert.Equal(t, 0, instance.CurrentStepIndex)
	assert.Empty(t, instance.StepOutcomes)
	assert.Equal(t, "ord-1", instance.Context["order_id"])

	// Nil context still yields a usable map for payload merging.
	bare := models.NewSagaInstance("order-fulfillment", nil)
	assert.NotNil(t, bare.Context)
}

func TestRecordForwardSuccessMergesPayload(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", map[string]any{"order_id": "ord-1"})

	instance.RecordForwardSuccess("reserve", map[string]any{"reservation_id": "res-1"})

	assert.Equal(t, 1, instance.CurrentStepIndex)
	assert.Equal(t, models.SagaStatusRunning, instance.Status)
	assert.Equal(t, "res-1", instance.Context["reservation_id"])
	assert.Equal(t, "ord-1", instance.Context["order_id"])

	require.Len(t, instance.StepOutcomes, 1)
	assert.Equal(t, models.PhaseForward, instance.StepOutcomes[0].Phase)
	assert.Equal(t, models.OutcomeSuccess, instance.StepOutcomes[0].Status)
}

func TestRecordForwardFailureStartsCompensation(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", nil)
	instance.RecordForwardSuccess("reserve", nil)

	instance.RecordForwardFailure("charge", models.ErrorKindTimeout, "deadline exceeded")

	assert.Equal(t, models.SagaStatusCompensating, instance.Status)
	// The cursor stays on the failed step.
	assert.Equal(t, 1, instance.CurrentStepIndex)

	require.Len(t, instance.StepOutcomes, 2)
	failed := instance.StepOutcomes[1]
	assert.Equal(t, models.OutcomeFailed, failed.Status)
	assert.Equal(t, models.ErrorKindTimeout, failed.ErrorKind)
	assert.Equal(t, "deadline exceeded", failed.Error)
}

func TestRecordCompensationSkippedSetsPartialRollback(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", nil)
	instance.RecordForwardSuccess("notify", nil)
	instance.BeginCompensation()

	instance.RecordCompensation("notify", models.OutcomeSkipped, models.ErrorKindNone, "")

	assert.True(t, instance.PartialRollback)

	outcome, ok := instance.CompensationOutcome("notify")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeSkipped, outcome.Status)
}

func TestForwardSuccessesPreservesOrder(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", nil)
	instance.RecordForwardSuccess("reserve", nil)
	instance.RecordForwardSuccess("charge", nil)
	instance.RecordForwardFailure("ship", models.ErrorKindActionError, "label rejected")

	successes := instance.ForwardSuccesses()
	require.Len(t, successes, 2)
	assert.Equal(t, "reserve", successes[0].StepName)
	assert.Equal(t, "charge", successes[1].StepName)
}

func TestCompensationFailed(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", nil)
	instance.RecordForwardSuccess("reserve", nil)
	instance.BeginCompensation()

	assert.False(t, instance.CompensationFailed())

	instance.RecordCompensation("reserve", models.OutcomeFailed, models.ErrorKindActionError, "release rejected")
	assert.True(t, instance.CompensationFailed())
}

func TestFinishStampsCompletion(t *testing.T) {
	instance := models.NewSagaInstance("order-fulfillment", nil)

	instance.Finish(models.SagaStatusCompleted)

	assert.Equal(t, models.SagaStatusCompleted, instance.Status)
	require.NotNil(t, instance.CompletedAt)
}
