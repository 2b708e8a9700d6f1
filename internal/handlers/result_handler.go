package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/repositories"
	"alfredoptarigan/cv-screening/internal/services"
)

type ResultHandler struct {
	evalService services.EvaluationService
	logger      *zap.Logger
}

func NewResultHandler(evalService services.EvaluationService, logger *zap.Logger) *ResultHandler {
	return &ResultHandler{
		evalService: evalService,
		logger:      logger,
	}
}

// HandleGetResult handles GET /result/:id
func (h *ResultHandler) HandleGetResult(c *fiber.Ctx) error {
	evalID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid evaluation ID format",
		})
	}

	response, err := h.evalService.GetStatus(c.UserContext(), evalID)
	if errors.Is(err, repositories.ErrEvaluationNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Evaluation not found",
		})
	}
	if err != nil {
		h.logger.Error("failed to load evaluation", zap.String("job_id", evalID.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load evaluation",
		})
	}

	return c.JSON(response)
}
