package routes

import (
	"time"

	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/handlers"
	"github.com/contractear/contractear-api/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Handlers struct {
	Analysis *handlers.AnalysisHandler
	Checkout *handlers.CheckoutHandler
	Profile  *handlers.ProfileHandler
	Webhook  *handlers.WebhookHandler
	Health   *handlers.HealthHandler
}

func perIP(max int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	})
}

func Setup(app *fiber.App, cfg *config.Config, h Handlers, profiles middleware.ProfileEnsurer) {
	// Webhooks: signature-verified, no JWT, outside the per-IP API limit
	app.Post("/api/webhooks/paddle", h.Webhook.HandlePaddle)

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(perIP(60))

	api.Get("/health", h.Health.Check)

	// Public status poll by id
	api.Get("/analysis", h.Analysis.Status)

	// Protected routes (JWT required) - apply middleware to individual routes
	authed := []fiber.Handler{middleware.JWTProtected(cfg), middleware.EnsureProfile(profiles)}
	protect := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler(nil), authed...), handler)
	}

	// Uploads: stricter limit, 10 req/min per IP
	uploads := perIP(10)
	api.Post("/upload", append([]fiber.Handler{uploads}, protect(h.Analysis.Upload)...)...)
	api.Post("/upload-url", append([]fiber.Handler{uploads}, protect(h.Analysis.UploadURL)...)...)

	api.Post("/confirm-payment", protect(h.Analysis.ConfirmPayment)...)
	api.Get("/user-analyses", protect(h.Analysis.List)...)
	api.Get("/usage-stats", protect(h.Analysis.Stats)...)
	api.Delete("/delete-analysis", protect(h.Analysis.Delete)...)

	api.Post("/create-checkout", protect(h.Checkout.CreateCheckout)...)
	api.Post("/create-subscription", protect(h.Checkout.CreateSubscription)...)

	api.Get("/profile", protect(h.Profile.Get)...)
	api.Post("/profile", protect(h.Profile.Ensure)...)
	api.Get("/usage-logs", protect(h.Profile.UsageLogs)...)
}
