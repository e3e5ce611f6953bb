// Package models defines the core domain models for saga orchestration.
package models

import (
	"time"

	"github.com/tandemhq/tandem/pkg/protocol"
)

const DefaultStepTimeout = 30 * time.Second

// StepDefinition declares one step of a saga: a forward action against an
// external dependency and an optional compensation that undoes it.
type StepDefinition struct {
	Name          string                `json:"name"           validate:"required,min=1"`
	DependencyKey string                `json:"dependency_key" validate:"required,min=1"`
	Timeout       time.Duration         `json:"timeout"`
	Forward       protocol.StepHandler  `json:"-"`
	Compensation  protocol.StepHandler  `json:"-"` // nil means the step cannot be undone
}

// Compensable reports whether the step declared a compensation action.
func (s *StepDefinition) Compensable() bool {
	return s.Compensation != nil
}

// StepTimeout returns the declared timeout, falling back to the default.
// The same bound applies to the forward and the compensation invocation.
func (s *StepDefinition) StepTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}

	return DefaultStepTimeout
}

// SagaDefinition is an ordered, immutable list of steps. Step order is fixed
// at definition time and never reordered at runtime.
type SagaDefinition struct {
	Name        string            `json:"name"        validate:"required,min=3"`
	Description string            `json:"description"`
	Steps       []*StepDefinition `json:"steps"       validate:"required,min=1,dive"`

	// ContextSchema optionally constrains the initial context accepted by
	// the start endpoint, as a JSON Schema document.
	ContextSchema map[string]any `json:"context_schema,omitempty"`
}

// StepAt returns the step at the given index, or nil when out of range.
func (d *SagaDefinition) StepAt(index int) *StepDefinition {
	if index < 0 || index >= len(d.Steps) {
		return nil
	}

	return d.Steps[index]
}
