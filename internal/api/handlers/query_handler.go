package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/internal/orchestrator"
	"github.com/knowledge-assistant/backend/pkg/logger"
)

type QueryHandler struct {
	engine *orchestrator.Engine
}

func NewQueryHandler(engine *orchestrator.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req orchestrator.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.engine.ProcessQuery(c.Context(), &req)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(response)
}

func (h *QueryHandler) mapError(c *fiber.Ctx, err error) error {
	var validationErr *orchestrator.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
		})
	}

	var blockedErr *orchestrator.SafetyBlockedError
	if errors.As(err, &blockedErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "Content blocked by safety guardrails",
			"message":    blockedErr.Reason,
			"request_id": blockedErr.RequestID,
		})
	}

	if errors.Is(err, orchestrator.ErrBudgetExceeded) {
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "Request timed out",
		})
	}

	logger.Error("Failed to process query", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process query",
	})
}
