package handlers

import (
	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
)

type CheckoutHandler struct {
	analyses *services.AnalysisService
}

func NewCheckoutHandler(analyses *services.AnalysisService) *CheckoutHandler {
	return &CheckoutHandler{analyses: analyses}
}

// CreateCheckout opens a payment for one pending analysis.
func (h *CheckoutHandler) CreateCheckout(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	var req dto.AnalysisIDRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Analysis ID is required")
	}
	id, err := parseAnalysisID(req.AnalysisID)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Analysis ID is required")
	}

	txn, err := h.analyses.CreateCheckout(c.UserContext(), userID, id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(dto.CheckoutResponse{TransactionID: txn})
}

// CreateSubscription opens a plan purchase.
func (h *CheckoutHandler) CreateSubscription(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	var req dto.CreateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil || req.Tier == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid tier")
	}

	txn, err := h.analyses.CreatePlanCheckout(c.UserContext(), userID, req.Tier)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(dto.CheckoutResponse{TransactionID: txn})
}
