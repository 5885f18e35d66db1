package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/contractear/contractear-api/internal/bootstrap"
	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/database"
	"github.com/contractear/contractear-api/internal/handlers"
	"github.com/contractear/contractear-api/internal/logging"
	"github.com/contractear/contractear-api/internal/middleware"
	"github.com/contractear/contractear-api/internal/routes"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	stdoutLog := logging.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err.Error())
		os.Exit(1)
	}

	cleanupDone := make(chan struct{})
	var pgLogHandler *logging.PGHandler
	if components.DB != nil {
		if err := database.Migrate(ctx, components.DB); err != nil {
			slog.Error("migration failed", "error", err.Error())
			os.Exit(1)
		}

		// PostgreSQL log handler (ERROR+ async batch)
		pgLogHandler = logging.NewPGHandler(components.DB)
		slog.SetDefault(slog.New(logging.NewMultiHandler(stdoutLog, pgLogHandler)))
		logging.StartCleanup(components.DB, cfg.LogRetentionDays, cleanupDone)
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err.Error())
		}
	}

	// Recovery sweeper for records stranded in paid or processing
	go components.Sweeper.Start(ctx, cfg.SweepInterval)

	// Fiber app; uploads are capped at 25MB by the handler, leave room for multipart framing
	app := fiber.New(fiber.Config{
		BodyLimit:    services.MaxAudioBytes + 1024*1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	routes.Setup(app, cfg, routes.Handlers{
		Analysis: handlers.NewAnalysisHandler(components.Analyses),
		Checkout: handlers.NewCheckoutHandler(components.Analyses),
		Profile:  handlers.NewProfileHandler(components.Usage),
		Webhook:  handlers.NewWebhookHandler(components.Webhooks),
		Health:   handlers.NewHealthHandler(components.Store),
	}, components.Usage)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver, "queue", cfg.QueueDriver)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err.Error())
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := components.Close(drainCtx); err != nil {
		slog.Warn("worker pool did not drain, sweeper will resume stranded records", "error", err.Error())
	}

	close(cleanupDone)
	if pgLogHandler != nil {
		pgLogHandler.Stop()
	}
	sentry.Flush(2 * time.Second)

	// Close database connections
	if err := database.Close(components.DB); err != nil {
		slog.Error("database close error", "error", err.Error())
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "action", c.Method()+" "+c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
