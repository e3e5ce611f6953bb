package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemhq/tandem/pkg/channels/gochannel"
	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/persistence/file"
	"github.com/tandemhq/tandem/pkg/registry"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	persistence := file.NewPersistence(t.TempDir())

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	api := NewAPI(
		logger,
		persistence,
		registry.NewRegistry(logger),
		eventbus.NewWatermillEventBus(pub, sub),
	)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Tandem API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_GetSagas_Empty(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sagas/", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var response struct {
		Sagas      []any `json:"sagas"`
		TotalCount int64 `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Empty(t, response.Sagas)
	assert.Zero(t, response.TotalCount)
}

func TestAPI_GetDefinitions_Empty(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/definitions", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
