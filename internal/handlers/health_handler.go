package handlers

import (
	"context"
	"time"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	overall, dbStatus := "ok", "ok"
	status := fiber.StatusOK
	if err := h.db.Ping(c.UserContext()); err != nil {
		overall, dbStatus = "degraded", "unhealthy: "+err.Error()
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(dto.HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
	})
}
