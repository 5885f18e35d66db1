package handlers

import (
	"errors"
	"log/slog"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
)

const signatureHeader = "Paddle-Signature"

type WebhookHandler struct {
	webhooks *services.WebhookService
}

func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandlePaddle verifies the signature over the raw body before anything is parsed.
func (h *WebhookHandler) HandlePaddle(c *fiber.Ctx) error {
	signature := c.Get(signatureHeader)
	if signature == "" {
		slog.Warn("webhook rejected, missing signature", "ip", c.IP())
		return errorJSON(c, fiber.StatusUnauthorized, "Missing signature")
	}

	raw := append([]byte(nil), c.Body()...)
	if !h.webhooks.Verify(raw, signature) {
		slog.Warn("webhook rejected, invalid signature", "ip", c.IP())
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid signature")
	}

	if err := h.webhooks.Handle(c.UserContext(), raw); err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid webhook payload")
		}
		if errors.Is(err, services.ErrEventInFlight) {
			return errorJSON(c, fiber.StatusConflict, "Event is being processed")
		}
		slog.Error("webhook processing failed", "action", "webhook", "error", err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to process webhook event",
		})
	}

	return c.JSON(fiber.Map{"received": true})
}
