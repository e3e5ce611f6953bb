// Package executor invokes a single step's forward or compensation action,
// enforcing the step timeout and reporting forward outcomes to the circuit
// breaker registry.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tandemhq/tandem/pkg/breaker"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/protocol"
)

// Result is the typed outcome of one step invocation. Control flow branches
// on Kind, never on a propagated error.
type Result struct {
	Kind    models.ErrorKind
	Success bool
	Skipped bool
	Payload map[string]any
	Cause   string
}

func success(payload map[string]any) Result {
	return Result{Success: true, Payload: payload}
}

func circuitOpen() Result {
	return Result{Kind: models.ErrorKindCircuitOpen, Cause: "circuit open, call not attempted"}
}

func timedOut(d time.Duration) Result {
	return Result{Kind: models.ErrorKindTimeout, Cause: "step exceeded timeout of " + d.String()}
}

func actionError(err error) Result {
	return Result{Kind: models.ErrorKindActionError, Cause: err.Error()}
}

func skipped() Result {
	return Result{Skipped: true}
}

// Executor runs step actions with a bounded timeout. Exactly one breaker
// update is reported per forward invocation attempt; compensations are
// recovery actions, not demand traffic, and never touch breaker state.
type Executor struct {
	logger   *slog.Logger
	breakers *breaker.Registry
}

func NewExecutor(logger *slog.Logger, breakers *breaker.Registry) *Executor {
	return &Executor{
		logger:   logger.With("module", "executor"),
		breakers: breakers,
	}
}

// ExecuteForward runs the step's forward action. When the dependency's
// circuit is open the call is not attempted and a CircuitOpen result is
// returned immediately.
func (e *Executor) ExecuteForward(ctx context.Context, step *models.StepDefinition, stepCtx protocol.StepContext) Result {
	logger := e.logger.With("saga_id", stepCtx.SagaID, "step", step.Name, "dependency", step.DependencyKey)

	if !e.breakers.Allow(step.DependencyKey) {
		logger.WarnContext(ctx, "Circuit open, failing step without attempting call")

		return circuitOpen()
	}

	result := e.invoke(ctx, step.Forward, stepCtx, step.StepTimeout())

	if result.Success {
		e.breakers.RecordSuccess(step.DependencyKey)
	} else {
		e.breakers.RecordFailure(step.DependencyKey)
		logger.WarnContext(ctx, "Step failed", "error_kind", result.Kind, "cause", result.Cause)
	}

	return result
}

// ExecuteCompensation runs the step's compensation action under the same
// timeout discipline. A step without a compensation yields Skipped, which
// is a normal outcome: not every forward action is reversible.
func (e *Executor) ExecuteCompensation(ctx context.Context, step *models.StepDefinition, stepCtx protocol.StepContext) Result {
	if !step.Compensable() {
		return skipped()
	}

	result := e.invoke(ctx, step.Compensation, stepCtx, step.StepTimeout())
	if !result.Success {
		e.logger.WarnContext(ctx, "Compensation failed",
			"saga_id", stepCtx.SagaID,
			"step", step.Name,
			"error_kind", result.Kind,
			"cause", result.Cause,
		)
	}

	return result
}

type invocation struct {
	payload map[string]any
	err     error
}

// invoke runs the handler with a deadline. The handler runs in its own
// goroutine with a cancelled context on timeout; a straggler that completes
// late delivers into a buffered channel nobody reads, so it can no longer
// influence saga context or breaker state.
func (e *Executor) invoke(ctx context.Context, handler protocol.StepHandler, stepCtx protocol.StepContext, timeout time.Duration) Result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)

	go func() {
		payload, err := handler.Execute(callCtx, stepCtx)
		done <- invocation{payload: payload, err: err}
	}()

	select {
	case <-callCtx.Done():
		return timedOut(timeout)
	case inv := <-done:
		if inv.err != nil {
			// An error surfacing at the deadline is indistinguishable from
			// a timed-out call: the outcome is unknown either way.
			if errors.Is(inv.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return timedOut(timeout)
			}

			return actionError(inv.err)
		}

		return success(inv.payload)
	}
}

// PollUntil repeatedly calls probe until it reports done, the interval
// budget is spent, or the context expires. It is the bounded wait primitive
// for handlers whose dependency completes work asynchronously; it must be
// used inside the step's timeout envelope, never as a long-lived poller.
func PollUntil(ctx context.Context, interval time.Duration, probe func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := probe(ctx)
		if err != nil {
			return err
		}

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
