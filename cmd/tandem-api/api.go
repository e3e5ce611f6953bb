// Package main provides the Tandem API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/tandemhq/tandem/pkg/breaker"
	"github.com/tandemhq/tandem/pkg/eventbus"
	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/registry"
	"github.com/tandemhq/tandem/pkg/services"
	"github.com/tandemhq/tandem/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	breakers    *breaker.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		breakers:    breaker.NewRegistry(logger, breaker.Config{}, nil),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	sagaService := services.NewSaga(a.persistence, a.registry, a.eventBus)

	handlers := web.NewAPIHandlers(sagaService, a.validate, a.breakers)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tandem API")
	})

	sagas := app.Group("/sagas")
	sagas.Get("/", handlers.GetSagas)
	sagas.Post("/", handlers.StartSaga)
	sagas.Get("/:id", handlers.GetSaga)
	sagas.Post("/:id/cancel", handlers.CancelSaga)

	app.Get("/definitions", handlers.GetDefinitions)
	app.Get("/breakers", handlers.GetBreakers)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
