package registry

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tandemhq/tandem/pkg/models"
)

// definitionDocumentSchema constrains saga definition documents before they
// are decoded, so authoring mistakes fail with a schema error instead of a
// half-built definition.
const definitionDocumentSchema = `{
	"type": "object",
	"required": ["name", "steps"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name", "dependency_key", "forward"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"dependency_key": {"type": "string", "minLength": 1},
					"timeout": {"type": "string"},
					"forward": {"$ref": "#/definitions/action"},
					"compensation": {"$ref": "#/definitions/action"}
				}
			}
		},
		"context_schema": {"type": "object"}
	},
	"definitions": {
		"action": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string", "minLength": 1},
				"config": {"type": "object"}
			}
		}
	}
}`

type actionDocument struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

type stepDocument struct {
	Name          string          `json:"name"`
	DependencyKey string          `json:"dependency_key"`
	Timeout       string          `json:"timeout"`
	Forward       actionDocument  `json:"forward"`
	Compensation  *actionDocument `json:"compensation"`
}

type definitionDocument struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Steps         []stepDocument `json:"steps"`
	ContextSchema map[string]any `json:"context_schema"`
}

// LoadDefinitions reads every *.json saga definition document under dir,
// builds its step handlers through the registered factories, and registers
// the resulting definitions.
func (r *Registry) LoadDefinitions(dir string) error {
	root := os.DirFS(dir)

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return fmt.Errorf("failed to list definition documents: %w", err)
	}

	for _, name := range jsonFiles {
		path := filepath.Join(dir, name)

		def, err := r.loadDefinition(path)
		if err != nil {
			return fmt.Errorf("failed to load definition %s: %w", path, err)
		}

		err = r.RegisterDefinition(def)
		if err != nil {
			return fmt.Errorf("failed to register definition %s: %w", path, err)
		}
	}

	return nil
}

func (r *Registry) loadDefinition(path string) (*models.SagaDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionDocumentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate document: %w", err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("invalid definition document: %s", formatSchemaErrors(result))
	}

	var doc definitionDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return r.buildDefinition(&doc)
}

func (r *Registry) buildDefinition(doc *definitionDocument) (*models.SagaDefinition, error) {
	steps := make([]*models.StepDefinition, 0, len(doc.Steps))

	for _, stepDoc := range doc.Steps {
		step := &models.StepDefinition{
			Name:          stepDoc.Name,
			DependencyKey: stepDoc.DependencyKey,
		}

		if stepDoc.Timeout != "" {
			timeout, err := time.ParseDuration(stepDoc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("step %s: invalid timeout %q: %w", stepDoc.Name, stepDoc.Timeout, err)
			}

			step.Timeout = timeout
		}

		forward, err := r.CreateHandler(stepDoc.Forward.Type, stepDoc.Forward.Config)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", stepDoc.Name, err)
		}

		step.Forward = forward

		if stepDoc.Compensation != nil {
			compensation, err := r.CreateHandler(stepDoc.Compensation.Type, stepDoc.Compensation.Config)
			if err != nil {
				return nil, fmt.Errorf("step %s compensation: %w", stepDoc.Name, err)
			}

			step.Compensation = compensation
		}

		steps = append(steps, step)
	}

	return &models.SagaDefinition{
		Name:          doc.Name,
		Description:   doc.Description,
		Steps:         steps,
		ContextSchema: doc.ContextSchema,
	}, nil
}
