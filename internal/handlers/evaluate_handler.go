package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
	"alfredoptarigan/cv-screening/internal/services"
)

type EvaluationHandler struct {
	evalService services.EvaluationService
	logger      *zap.Logger
}

func NewEvaluationHandler(evalService services.EvaluationService, logger *zap.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		evalService: evalService,
		logger:      logger,
	}
}

// HandleEvaluate handles POST /evaluate. It returns as soon as the job is queued.
func (h *EvaluationHandler) HandleEvaluate(c *fiber.Ctx) error {
	var req models.EvaluateRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	if problems := validateRequest(&req); len(problems) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Validation failed",
			"fields": problems,
		})
	}

	evaluation, err := h.evalService.Submit(c.UserContext(), services.SubmitRequest{
		JobTitle:          req.JobTitle,
		CVDocumentID:      uuid.MustParse(req.CVDocumentID),
		ProjectDocumentID: uuid.MustParse(req.ProjectDocumentID),
	})
	switch {
	case errors.Is(err, repositories.ErrDocumentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrInvalidSubmission):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		h.logger.Error("failed to create evaluation job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create evaluation job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(models.EvaluateResponse{
		ID:     evaluation.ID.String(),
		Status: string(evaluation.Status),
	})
}
