package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tandemhq/tandem/pkg/breaker"
	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/events"
	"github.com/tandemhq/tandem/pkg/executor"
	"github.com/tandemhq/tandem/pkg/lock"
	"github.com/tandemhq/tandem/pkg/orchestrator"
	"github.com/tandemhq/tandem/pkg/otelhelper"
	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/recovery"
	"github.com/tandemhq/tandem/pkg/registry"
)

type WorkerManager struct {
	id           string
	logger       *slog.Logger
	persistence  persistence.Persistence
	registry     *registry.Registry
	eventBus     eventbus.EventBus
	locker       lock.Locker
	staleAfter   time.Duration
	orchestrator *orchestrator.Orchestrator
	sweeper      *recovery.Sweeper
	tracer       trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *registry.Registry,
	locker lock.Locker,
	staleAfter time.Duration,
) *WorkerManager {
	workerLogger := logger.With("module", "tandem-worker", "worker_id", id)
	breakers := breaker.NewRegistry(workerLogger, breaker.Config{}, nil)

	return &WorkerManager{
		id:          id,
		logger:      workerLogger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		locker:      locker,
		staleAfter:  staleAfter,
		orchestrator: orchestrator.NewOrchestrator(
			workerLogger,
			persistence,
			registry,
			executor.NewExecutor(workerLogger, breakers),
			eventBus,
			locker,
			id,
		),
		sweeper: recovery.NewSweeper(workerLogger, persistence, eventBus).
			WithStaleAfter(staleAfter),
		tracer: noop.NewTracerProvider().Tracer("tandem-worker"),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if os.Getenv("OTEL_ENABLED") == "true" {
		tracer, err := otelhelper.NewTracer(ctx, "tandem-worker")
		if err != nil {
			return err
		}

		w.tracer = tracer
		w.orchestrator.SetTracer(tracer)
	}

	err := w.eventBus.Handle(events.SagaStartedEvent, w.handleSagaStarted)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = w.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")
	w.sweeper.Stop()

	return nil
}

func (w *WorkerManager) handleSagaStarted(ctx context.Context, event any) error {
	startedEvent, ok := event.(*events.SagaStarted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for SagaStarted")

		return nil
	}

	logger := w.logger.With(
		"saga_id", startedEvent.SagaID,
		"definition", startedEvent.DefinitionName,
		"event_id", startedEvent.ID,
	)
	logger.InfoContext(ctx, "Processing saga", "resumed", startedEvent.Resumed)

	runCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.saga run",
		attribute.String(otelhelper.SagaIDKey, startedEvent.SagaID),
		attribute.String(otelhelper.DefinitionNameKey, startedEvent.DefinitionName),
		attribute.String(otelhelper.WorkerIDKey, w.id),
		attribute.String(otelhelper.EventIDKey, startedEvent.ID),
	)
	defer span.End()

	err := w.orchestrator.Run(runCtx, startedEvent.SagaID)
	if err != nil {
		// Another worker holding or having taken the lease is not an
		// error worth redelivery; that worker is driving the saga.
		if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, orchestrator.ErrLeaseLost) {
			logger.InfoContext(ctx, "Saga driven by another worker, skipping")

			return nil
		}

		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Saga run halted", "error", err)

		return err
	}

	return nil
}
