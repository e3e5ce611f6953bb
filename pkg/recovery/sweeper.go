// Package recovery re-dispatches saga instances stranded by worker
// crashes. A non-terminal instance that has not been touched for the
// stale window lost its worker; re-publishing its start event hands it to
// a live one, and the orchestrator's lease plus resume semantics make the
// re-dispatch safe even when the original worker is merely slow.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/events"
	"github.com/tandemhq/tandem/pkg/persistence"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultSchedule   = "@every 1m"
)

type Sweeper struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	staleAfter  time.Duration
	schedule    string
	cron        *cron.Cron
}

func NewSweeper(logger *slog.Logger, persistence persistence.Persistence, publisher eventbus.EventPublisher) *Sweeper {
	return &Sweeper{
		logger:      logger.With("module", "recovery"),
		persistence: persistence,
		publisher:   publisher,
		staleAfter:  defaultStaleAfter,
		schedule:    defaultSchedule,
	}
}

// WithStaleAfter overrides how long an instance may go without updates
// before it is considered stranded. Must be longer than the slowest step
// timeout, or in-flight sagas get double-dispatched needlessly.
func (s *Sweeper) WithStaleAfter(staleAfter time.Duration) *Sweeper {
	s.staleAfter = staleAfter

	return s
}

func (s *Sweeper) WithSchedule(schedule string) *Sweeper {
	s.schedule = schedule

	return s
}

// Start begins periodic sweeps. It returns after scheduling; sweeps run on
// the cron's goroutine until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Recovery sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// Sweep re-dispatches every resumable instance once. Exported so tests and
// operational tooling can trigger a sweep without the schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)

	ids, err := s.persistence.Sagas().ListResumable(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list resumable sagas", "error", err)

		return
	}

	if len(ids) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "Re-dispatching stranded sagas", "count", len(ids))

	for _, sagaID := range ids {
		instance, err := s.persistence.Sagas().GetByID(ctx, sagaID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to load stranded saga", "saga_id", sagaID, "error", err)

			continue
		}

		event := events.SagaStarted{
			BaseEvent:      events.NewBaseEvent(events.SagaStartedEvent, sagaID),
			DefinitionName: instance.DefinitionName,
			Resumed:        true,
		}

		err = s.publisher.Publish(ctx, sagaID, event)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to re-dispatch saga", "saga_id", sagaID, "error", err)
		}
	}
}
