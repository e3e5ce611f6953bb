// Package logstep provides a step handler that only logs. It is useful as
// a placeholder action in definition documents and as the cheapest
// possible compensation for notification-style steps.
package logstep

import (
	"context"
	"log/slog"

	"github.com/tandemhq/tandem/pkg/protocol"
)

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger}
}

type Factory struct {
	logger *slog.Logger
}

func (*Factory) ID() string {
	return "log"
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewHandler(config, f.logger), nil
}

type Handler struct {
	Message string
	Level   string

	logger *slog.Logger
}

func NewHandler(config map[string]any, logger *slog.Logger) *Handler {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Handler{
		Message: message,
		Level:   level,
		logger:  logger.With("handler_type", "log"),
	}
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (map[string]any, error) {
	logger := h.logger.With("saga_id", stepCtx.SagaID, "step", stepCtx.StepName)

	switch h.Level {
	case "debug":
		logger.DebugContext(ctx, h.Message, "context", stepCtx.Context)
	case "warn":
		logger.WarnContext(ctx, h.Message, "context", stepCtx.Context)
	default:
		logger.InfoContext(ctx, h.Message, "context", stepCtx.Context)
	}

	return map[string]any{}, nil
}
