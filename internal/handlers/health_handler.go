package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type ReadinessChecker interface {
	Ready() bool
}

type HealthHandler struct {
	worker ReadinessChecker
}

func NewHealthHandler(worker ReadinessChecker) *HealthHandler {
	return &HealthHandler{worker: worker}
}

// HandleHealth handles GET /health. It reports 503 until the worker has initialized.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ready := h.worker.Ready()

	status := "healthy"
	code := fiber.StatusOK
	if !ready {
		status = "starting"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       status,
		"worker_ready": ready,
		"time":         time.Now(),
	})
}
