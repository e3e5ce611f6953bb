package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/tandemhq/tandem/pkg/cmd"
	"github.com/tandemhq/tandem/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "tandem-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute sagas",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Redis URL for per-saga leases (in-process leases if empty)",
				Value:   "",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:    "definitions-path",
				Usage:   "Path to the directory containing saga definition documents",
				Value:   "./definitions",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.DurationFlag{
				Name:    "recovery-stale-after",
				Usage:   "How long a saga may go without updates before it is re-dispatched",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("RECOVERY_STALE_AFTER"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("tandem-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Tandem Worker")

			registry, err := cmd.NewRegistry(logger, command.String("definitions-path"))
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "tandem-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(logger, command.String("lock-url"))
			if err != nil {
				return err
			}

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				registry,
				locker,
				command.Duration("recovery-stale-after"),
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start saga worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
