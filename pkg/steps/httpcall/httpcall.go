// Package httpcall provides the HTTP step handler: it calls a dependency
// endpoint with the saga context as payload and merges the JSON response
// back into the context. It backs both forward actions and compensations
// for services reachable over HTTP.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tandemhq/tandem/pkg/executor"
	"github.com/tandemhq/tandem/pkg/protocol"
)

const defaultPollInterval = 2 * time.Second

var (
	// ErrURLRequired is returned when the handler config has no URL.
	ErrURLRequired = errors.New("missing or invalid 'url' in configuration")
	// ErrUnexpectedStatus is returned when the dependency answers outside
	// the 2xx range.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Handler performs one HTTP call per step invocation. The step executor
// owns the timeout; the handler only honors the context it is given.
type Handler struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string

	// Poll, when set, makes the handler wait for asynchronous completion:
	// after the main call succeeds, PollURL is GETed until it answers 2xx.
	Poll         bool
	PollURL      string
	PollInterval time.Duration

	client *http.Client
}

// NewHandler creates a Handler from step configuration.
func NewHandler(config map[string]any) (*Handler, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	handler := &Handler{
		URL:          url,
		Method:       strings.ToUpper(method),
		Headers:      headers,
		Body:         body,
		PollInterval: defaultPollInterval,
		client:       &http.Client{},
	}

	if pollConfig, exists := config["poll"]; exists {
		pollMap, ok := pollConfig.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid 'poll' configuration")
		}

		pollURL, _ := pollMap["url"].(string)
		if pollURL == "" {
			return nil, fmt.Errorf("poll configuration requires a 'url'")
		}

		handler.Poll = true
		handler.PollURL = pollURL

		if intervalStr, ok := pollMap["interval"].(string); ok {
			interval, err := time.ParseDuration(intervalStr)
			if err != nil {
				return nil, fmt.Errorf("invalid poll interval: %w", err)
			}

			handler.PollInterval = interval
		}
	}

	return handler, nil
}

// Execute calls the configured endpoint. Without an explicit body the saga
// context is sent as JSON, so dependencies see accumulated step payloads.
// The JSON response body becomes the step payload.
func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (map[string]any, error) {
	req, err := h.buildRequest(ctx, stepCtx)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http call failed: %w", err)
	}

	payload, err := h.processResponse(resp)
	if err != nil {
		return nil, err
	}

	if h.Poll {
		err = h.waitForCompletion(ctx)
		if err != nil {
			return nil, err
		}
	}

	return payload, nil
}

func (h *Handler) buildRequest(ctx context.Context, stepCtx protocol.StepContext) (*http.Request, error) {
	var bodyReader io.Reader

	switch {
	case h.Body != "":
		bodyReader = strings.NewReader(h.Body)
	case h.Method != http.MethodGet && h.Method != http.MethodHead:
		encoded, err := json.Marshal(stepCtx.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to encode saga context: %w", err)
		}

		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Saga-ID", stepCtx.SagaID)
	req.Header.Set("X-Saga-Step", stepCtx.StepName)

	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (h *Handler) processResponse(resp *http.Response) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, truncate(bodyBytes))
	}

	if len(bodyBytes) == 0 {
		return nil, nil
	}

	var payload map[string]any

	err = json.Unmarshal(bodyBytes, &payload)
	if err != nil {
		// Non-object responses carry no mergeable keys.
		return map[string]any{"response_body": string(bodyBytes)}, nil
	}

	return payload, nil
}

// waitForCompletion polls the completion endpoint inside the step's
// timeout envelope. The executor's deadline bounds the wait.
func (h *Handler) waitForCompletion(ctx context.Context) error {
	return executor.PollUntil(ctx, h.PollInterval, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.PollURL, nil)
		if err != nil {
			return false, err
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return false, fmt.Errorf("completion poll failed: %w", err)
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		// 202 Accepted means the operation is still in progress; only a
		// plain 200 signals completion.
		return resp.StatusCode == http.StatusOK, nil
	})
}

func truncate(body []byte) string {
	const limit = 256

	if len(body) <= limit {
		return string(body)
	}

	return string(body[:limit]) + "..."
}
