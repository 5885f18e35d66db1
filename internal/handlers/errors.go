package handlers

import (
	"errors"
	"log/slog"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
)

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Error: true, Message: message})
}

// writeServiceError maps service sentinels onto HTTP statuses.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrInvalidSignature):
		return errorJSON(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrPaymentRequired), errors.Is(err, services.ErrNoPlan):
		return errorJSON(c, fiber.StatusPaymentRequired, err.Error())
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrQuotaExceeded):
		return errorJSON(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrGatewayUnavailable):
		return errorJSON(c, fiber.StatusServiceUnavailable, services.ErrGatewayUnavailable.Error())
	case errors.Is(err, services.ErrPriceNotConfigured):
		return errorJSON(c, fiber.StatusInternalServerError, "Price not configured")
	default:
		slog.Error("request failed", "action", c.Method()+" "+c.Path(), "error", err.Error())
		return errorJSON(c, fiber.StatusInternalServerError, "Internal server error")
	}
}
