// Package web provides HTTP handlers and REST API endpoints for saga
// management.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/tandemhq/tandem/pkg/breaker"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/services"
)

type APIHandlers struct {
	sagaService *services.Saga
	validator   *validator.Validate
	breakers    *breaker.Registry
}

func NewAPIHandlers(
	sagaService *services.Saga,
	validator *validator.Validate,
	breakers *breaker.Registry,
) *APIHandlers {
	return &APIHandlers{
		sagaService: sagaService,
		validator:   validator,
		breakers:    breakers,
	}
}

// StartSaga accepts a new saga for asynchronous execution.
func (h *APIHandlers) StartSaga(c fiber.Ctx) error {
	var req StartSagaRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.sagaService.StartSaga(c.Context(), services.StartSagaRequest{
		DefinitionName: req.DefinitionName,
		InitialContext: req.InitialContext,
	})
	if err != nil && instance == nil {
		return handleServiceError(c, err)
	}

	// A non-nil instance with an error means the saga is durably stored
	// but dispatch failed; the recovery sweeper will pick it up, so the
	// client still gets its acknowledgement.
	return c.Status(fiber.StatusAccepted).JSON(StartSagaResponse{
		SagaID:         instance.ID,
		DefinitionName: instance.DefinitionName,
		Status:         instance.Status,
		CreatedAt:      instance.CreatedAt,
	})
}

func (h *APIHandlers) GetSaga(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Saga ID is required")
	}

	instance, err := h.sagaService.GetSaga(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrSagaNotFound) {
			return notFound(c, "Saga not found")
		}

		return internalError(c, err)
	}

	return c.JSON(TransformSagaResponse(instance))
}

// CancelSaga requests cooperative cancellation. The saga stops at the next
// step boundary and compensates what already completed.
func (h *APIHandlers) CancelSaga(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Saga ID is required")
	}

	instance, err := h.sagaService.CancelSaga(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TransformSagaResponse(instance))
}

func (h *APIHandlers) GetSagas(c fiber.Ctx) error {
	req, err := h.parseListSagasRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.sagaService.ListSagas(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	sagas := make([]SagaResponse, 0, len(result.Sagas))
	for _, instance := range result.Sagas {
		sagas = append(sagas, TransformSagaResponse(instance))
	}

	return c.JSON(fiber.Map{
		"sagas":         sagas,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

func (h *APIHandlers) parseListSagasRequest(c fiber.Ctx) (*services.ListSagasRequest, error) {
	req := &services.ListSagasRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.SagaStatus(statusStr)
		req.Status = &status
	}

	return req, nil
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"definitions": h.sagaService.DefinitionNames(),
	})
}

// GetBreakers exposes circuit breaker state so operators can tell a down
// dependency from a rejected request. It reflects the breakers of this
// process only.
func (h *APIHandlers) GetBreakers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"breakers": h.breakers.Snapshots(),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.sagaService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Tandem API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Tandem API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
