package handlers

import (
	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/identity"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
)

type ProfileHandler struct {
	usage *services.UsageService
}

func NewProfileHandler(usage *services.UsageService) *ProfileHandler {
	return &ProfileHandler{usage: usage}
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	p, err := h.usage.GetProfile(c.UserContext(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(p)
}

// Ensure creates the profile if missing; the body email is used when the token has none.
func (h *ProfileHandler) Ensure(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	email := identity.GetEmail(c)
	if email == "" {
		var req dto.ProfileRequest
		_ = c.BodyParser(&req)
		email = req.Email
	}
	p, err := h.usage.EnsureProfile(c.UserContext(), userID, email)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(p)
}

func (h *ProfileHandler) UsageLogs(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	logs, err := h.usage.UsageLogs(c.UserContext(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(logs)
}
