package middleware

import (
	"context"
	"log/slog"

	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/identity"
	"github.com/contractear/contractear-api/internal/models"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// JWTProtected verifies identity-provider tokens: JWKS when configured, the shared HS256 secret otherwise.
func JWTProtected(cfg *config.Config) fiber.Handler {
	jc := jwtware.Config{
		ContextKey: identity.LocalsKey,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	}
	if cfg.JWTJWKSURL != "" {
		jc.JWKSetURLs = []string{cfg.JWTJWKSURL}
	} else {
		jc.SigningKey = jwtware.SigningKey{JWTAlg: jwtware.HS256, Key: []byte(cfg.JWTSecret)}
	}
	return jwtware.New(jc)
}

type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)
}

// EnsureProfile creates the caller's billing profile on first sight. It must run after JWTProtected.
func EnsureProfile(profiles ProfileEnsurer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := identity.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
		if _, err := profiles.EnsureProfile(c.UserContext(), userID, identity.GetEmail(c)); err != nil {
			slog.Error("profile bootstrap failed", "user_id", userID.String(), "error", err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Internal server error",
			})
		}
		return c.Next()
	}
}
