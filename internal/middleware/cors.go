package middleware

import (
	"strings"

	"github.com/contractear/contractear-api/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS accepts a comma or space separated CORS_ORIGINS list.
func CORS(cfg *config.Config) fiber.Handler {
	origins := strings.Join(strings.Fields(strings.ReplaceAll(cfg.CORSOrigins, ",", " ")), ",")
	if origins == "" {
		origins = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Authorization, Accept",
		AllowMethods:  fiber.MethodGet + "," + fiber.MethodPost + "," + fiber.MethodDelete + "," + fiber.MethodOptions,
		ExposeHeaders: fiber.HeaderXRequestID,
		MaxAge:        600,
	})
}
