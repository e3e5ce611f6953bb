// Package registry holds registered saga definitions and the step handler
// factories used to build them from definition documents.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/protocol"
)

type Registry struct {
	logger           *slog.Logger
	handlerFactories map[string]protocol.StepHandlerFactory
	definitions      map[string]*models.SagaDefinition
	contextSchemas   map[string]*gojsonschema.Schema
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:           logger.With("module", "registry"),
		handlerFactories: make(map[string]protocol.StepHandlerFactory),
		definitions:      make(map[string]*models.SagaDefinition),
		contextSchemas:   make(map[string]*gojsonschema.Schema),
	}
}

func (r *Registry) RegisterHandlerFactory(factory protocol.StepHandlerFactory) {
	r.handlerFactories[factory.ID()] = factory
}

func (r *Registry) CreateHandler(handlerType string, config map[string]any) (protocol.StepHandler, error) {
	factory, ok := r.handlerFactories[handlerType]
	if !ok {
		return nil, fmt.Errorf("step handler type '%s' not registered", handlerType)
	}

	return factory.Create(config)
}

// RegisterDefinition validates and registers a saga definition. Definitions
// are immutable once registered; re-registering a name replaces it, which
// is intended for tests only.
func (r *Registry) RegisterDefinition(def *models.SagaDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("saga definition requires a name")
	}

	if len(def.Steps) == 0 {
		return fmt.Errorf("saga definition %s has no steps", def.Name)
	}

	seen := make(map[string]bool, len(def.Steps))

	for i, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("saga definition %s: step %d has no name", def.Name, i)
		}

		if seen[step.Name] {
			return fmt.Errorf("saga definition %s: duplicate step name %s", def.Name, step.Name)
		}

		seen[step.Name] = true

		if step.DependencyKey == "" {
			return fmt.Errorf("saga definition %s: step %s has no dependency key", def.Name, step.Name)
		}

		if step.Forward == nil {
			return fmt.Errorf("saga definition %s: step %s has no forward action", def.Name, step.Name)
		}
	}

	if def.ContextSchema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.ContextSchema))
		if err != nil {
			return fmt.Errorf("saga definition %s: invalid context schema: %w", def.Name, err)
		}

		r.contextSchemas[def.Name] = schema
	}

	r.definitions[def.Name] = def
	r.logger.Info("Registered saga definition", "definition", def.Name, "steps", len(def.Steps))

	return nil
}

// Definition returns the registered saga definition with the given name.
func (r *Registry) Definition(name string) (*models.SagaDefinition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("saga definition '%s' not registered", name)
	}

	return def, nil
}

// DefinitionNames lists the registered definitions.
func (r *Registry) DefinitionNames() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}

	return names
}

// ValidateContext checks an initial context against the definition's
// declared schema. Definitions without a schema accept anything.
func (r *Registry) ValidateContext(definitionName string, initialContext map[string]any) error {
	schema, ok := r.contextSchemas[definitionName]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(initialContext))
	if err != nil {
		return fmt.Errorf("failed to validate initial context: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("initial context rejected by schema: %s", formatSchemaErrors(result))
	}

	return nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	message := ""

	for i, desc := range result.Errors() {
		if i > 0 {
			message += "; "
		}

		message += desc.String()
	}

	return message
}
