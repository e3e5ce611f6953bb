// Package protocol defines the capability contract implemented by step
// handlers and the factory interface used to build them from configuration.
package protocol

import "context"

// StepContext carries the data a handler needs to perform its action: the
// saga identifier, the step name, and the context map threaded between steps.
type StepContext struct {
	SagaID   string
	StepName string
	Context  map[string]any
}

// StepHandler is the uniform contract for forward and compensation actions.
// Handlers must be idempotent: the orchestrator may re-invoke an action
// whose previous attempt crashed before its outcome was persisted.
//
// The returned map is merged into the saga context on success. A non-nil
// error means the action explicitly failed; exceeding the step timeout is
// detected by the caller, not the handler.
type StepHandler interface {
	Execute(ctx context.Context, stepCtx StepContext) (map[string]any, error)
}

// StepHandlerFunc adapts an ordinary function to the StepHandler interface.
type StepHandlerFunc func(ctx context.Context, stepCtx StepContext) (map[string]any, error)

func (f StepHandlerFunc) Execute(ctx context.Context, stepCtx StepContext) (map[string]any, error) {
	return f(ctx, stepCtx)
}

// StepHandlerFactory builds step handlers of one type from per-step
// configuration. Factories are registered in the registry and looked up by
// ID when saga definitions are loaded from documents.
type StepHandlerFactory interface {
	ID() string
	Create(config map[string]any) (StepHandler, error)
}
