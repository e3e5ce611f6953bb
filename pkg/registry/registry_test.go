package registry_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/protocol"
	"github.com/tandemhq/tandem/pkg/registry"
)

type noopFactory struct {
	id string
}

func (f *noopFactory) ID() string { return f.id }

func (f *noopFactory) Create(_ map[string]any) (protocol.StepHandler, error) {
	return protocol.StepHandlerFunc(func(_ context.Context, _ protocol.StepContext) (map[string]any, error) {
		return nil, nil
	}), nil
}

func noopHandler() protocol.StepHandler {
	return protocol.StepHandlerFunc(func(_ context.Context, _ protocol.StepContext) (map[string]any, error) {
		return nil, nil
	})
}

func validDefinition(name string) *models.SagaDefinition {
	return &models.SagaDefinition{
		Name: name,
		Steps: []*models.StepDefinition{
			{Name: "reserve", DependencyKey: "inventory-api", Forward: noopHandler()},
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := registry.NewRegistry(slog.Default())

	require.NoError(t, r.RegisterDefinition(validDefinition("order-fulfillment")))

	def, err := r.Definition("order-fulfillment")
	require.NoError(t, err)
	assert.Equal(t, "order-fulfillment", def.Name)

	_, err = r.Definition("unknown")
	require.Error(t, err)

	assert.Equal(t, []string{"order-fulfillment"}, r.DefinitionNames())
}

func TestRegistry_RejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	r := registry.NewRegistry(slog.Default())

	tests := []struct {
		name string
		def  *models.SagaDefinition
	}{
		{"missing name", &models.SagaDefinition{}},
		{"no steps", &models.SagaDefinition{Name: "empty"}},
		{
			"duplicate step names",
			&models.SagaDefinition{
				Name: "dup",
				Steps: []*models.StepDefinition{
					{Name: "a", DependencyKey: "x", Forward: noopHandler()},
					{Name: "a", DependencyKey: "y", Forward: noopHandler()},
				},
			},
		},
		{
			"missing forward",
			&models.SagaDefinition{
				Name:  "no-forward",
				Steps: []*models.StepDefinition{{Name: "a", DependencyKey: "x"}},
			},
		},
		{
			"missing dependency key",
			&models.SagaDefinition{
				Name:  "no-dep",
				Steps: []*models.StepDefinition{{Name: "a", Forward: noopHandler()}},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Error(t, r.RegisterDefinition(tc.def))
		})
	}
}

func TestRegistry_ValidateContext(t *testing.T) {
	t.Parallel()

	r := registry.NewRegistry(slog.Default())

	def := validDefinition("order-fulfillment")
	def.ContextSchema = map[string]any{
		"type":     "object",
		"required": []any{"order_id"},
		"properties": map[string]any{
			"order_id": map[string]any{"type": "string"},
		},
	}
	require.NoError(t, r.RegisterDefinition(def))

	assert.NoError(t, r.ValidateContext("order-fulfillment", map[string]any{"order_id": "o-1"}))
	assert.Error(t, r.ValidateContext("order-fulfillment", map[string]any{"customer": "c-1"}))

	// Definitions without a schema accept anything.
	require.NoError(t, r.RegisterDefinition(validDefinition("schemaless")))
	assert.NoError(t, r.ValidateContext("schemaless", map[string]any{"anything": true}))
}

func TestRegistry_CreateHandler(t *testing.T) {
	t.Parallel()

	r := registry.NewRegistry(slog.Default())
	r.RegisterHandlerFactory(&noopFactory{id: "noop"})

	handler, err := r.CreateHandler("noop", nil)
	require.NoError(t, err)
	assert.NotNil(t, handler)

	_, err = r.CreateHandler("unknown", nil)
	require.Error(t, err)
}

func TestRegistry_LoadDefinitions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	document := `{
		"name": "order-fulfillment",
		"description": "Reserve, charge, ship",
		"steps": [
			{
				"name": "reserve",
				"dependency_key": "inventory-api",
				"timeout": "5s",
				"forward": {"type": "noop", "config": {}},
				"compensation": {"type": "noop", "config": {}}
			},
			{
				"name": "notify",
				"dependency_key": "email-api",
				"forward": {"type": "noop"}
			}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.json"), []byte(document), 0o600))

	r := registry.NewRegistry(slog.Default())
	r.RegisterHandlerFactory(&noopFactory{id: "noop"})

	require.NoError(t, r.LoadDefinitions(dir))

	def, err := r.Definition("order-fulfillment")
	require.NoError(t, err)
	require.Len(t, def.Steps, 2)

	assert.Equal(t, 5*time.Second, def.Steps[0].Timeout)
	assert.True(t, def.Steps[0].Compensable())
	assert.False(t, def.Steps[1].Compensable())
	assert.Equal(t, models.DefaultStepTimeout, def.Steps[1].StepTimeout())
}

func TestRegistry_LoadDefinitions_RejectsInvalidDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"name": "x"}`), 0o600))

	r := registry.NewRegistry(slog.Default())

	require.Error(t, r.LoadDefinitions(dir))
}
