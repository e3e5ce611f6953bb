package httpcall_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemhq/tandem/pkg/protocol"
	"github.com/tandemhq/tandem/pkg/steps/httpcall"
)

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name        string
		config      map[string]any
		expectError bool
	}{
		{
			name:        "missing url",
			config:      map[string]any{},
			expectError: true,
		},
		{
			name:   "url only defaults to POST",
			config: map[string]any{"url": "http://example.com/reserve"},
		},
		{
			name: "explicit method and headers",
			config: map[string]any{
				"url":     "http://example.com/reserve",
				"method":  "put",
				"headers": map[string]any{"Authorization": "Bearer token"},
			},
		},
		{
			name: "poll without url rejected",
			config: map[string]any{
				"url":  "http://example.com/reserve",
				"poll": map[string]any{},
			},
			expectError: true,
		},
		{
			name: "invalid poll interval rejected",
			config: map[string]any{
				"url": "http://example.com/reserve",
				"poll": map[string]any{
					"url":      "http://example.com/status",
					"interval": "soon",
				},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := httpcall.NewHandler(tt.config)
			if tt.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, handler)
		})
	}
}

func TestExecuteSendsContextAndMergesResponse(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "saga-1", r.Header.Get("X-Saga-ID"))
		assert.Equal(t, "reserve", r.Header.Get("X-Saga-Step"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"reservation_id": "res-9"})
	}))
	defer server.Close()

	handler, err := httpcall.NewHandler(map[string]any{"url": server.URL})
	require.NoError(t, err)

	payload, err := handler.Execute(context.Background(), stepContext(map[string]any{"order_id": "ord-7"}))
	require.NoError(t, err)

	assert.Equal(t, "ord-7", received["order_id"])
	assert.Equal(t, "res-9", payload["reservation_id"])
}

func TestExecuteNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "inventory exhausted", http.StatusConflict)
	}))
	defer server.Close()

	handler, err := httpcall.NewHandler(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), stepContext(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, httpcall.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "inventory exhausted")
}

func TestExecuteNonJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	handler, err := httpcall.NewHandler(map[string]any{"url": server.URL})
	require.NoError(t, err)

	payload, err := handler.Execute(context.Background(), stepContext(nil))
	require.NoError(t, err)
	assert.Equal(t, "OK", payload["response_body"])
}

func TestExecutePollsUntilComplete(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)

			return
		}

		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	handler, err := httpcall.NewHandler(map[string]any{
		"url": server.URL + "/start",
		"poll": map[string]any{
			"url":      server.URL + "/status",
			"interval": "10ms",
		},
	})
	require.NoError(t, err)

	payload, err := handler.Execute(context.Background(), stepContext(nil))
	require.NoError(t, err)
	assert.Equal(t, "job-1", payload["job_id"])
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestExecutePollStopsOnContextDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	handler, err := httpcall.NewHandler(map[string]any{
		"url": server.URL + "/start",
		"poll": map[string]any{
			"url":      server.URL + "/status",
			"interval": "10ms",
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = handler.Execute(ctx, stepContext(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func stepContext(sagaContext map[string]any) protocol.StepContext {
	return protocol.StepContext{
		SagaID:   "saga-1",
		StepName: "reserve",
		Context:  sagaContext,
	}
}
