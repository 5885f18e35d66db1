// Package bootstrap assembles the store, storage, queue and services from
// configuration. The API server and opsctl share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/contractear/contractear-api/internal/ai"
	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/database"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/payments"
	"github.com/contractear/contractear-api/internal/queue"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Components struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      store.Store
	Audio      storage.AudioStore
	Usage      *services.UsageService
	Analyses   *services.AnalysisService
	Webhooks   *services.WebhookService
	Processor  *services.Processor
	Sweeper    *services.Sweeper
	Dispatcher queue.Dispatcher
	SQS        *sqs.Client

	local *queue.LocalDispatcher
}

// Build wires every component. Postgres is connected here but not migrated;
// DB stays nil on the memory store.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Config: cfg}

	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on restart")
		c.Store = store.NewMemoryStore()
	case "postgres":
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		c.DB = db
		c.Store = store.NewGormStore(db)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case "memory":
		c.Audio = storage.NewMemoryStore()
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		c.Audio = s3Store
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	aiClient := ai.NewClient(cfg.OpenAIAPIURL, cfg.OpenAIAPIKey, cfg.OpenAITranscribeModel, cfg.AITimeout)
	c.Processor = services.NewProcessor(c.Store, c.Audio, aiClient, aiClient,
		services.WithLease(cfg.ProcessingLease),
		services.WithFailureReporter(reportFailure),
	)

	switch cfg.QueueDriver {
	case "local":
		c.local = queue.NewLocalDispatcher(c.Processor.Process, cfg.WorkerConcurrency, 100)
		c.Dispatcher = c.local
	case "sqs":
		client, err := queue.NewSQSClient(ctx, cfg.S3Region, cfg.SQSEndpoint, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			return nil, err
		}
		c.SQS = client
		c.Dispatcher = queue.NewSQSDispatcher(client, cfg.SQSQueueURL)
	default:
		return nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
	}

	c.Usage = services.NewUsageService(c.Store)
	c.Analyses = services.NewAnalysisService(services.AnalysisDeps{
		Store:      c.Store,
		Usage:      c.Usage,
		Gateway:    payments.NewPaddleClient(cfg.PaddleBaseURL(), cfg.PaddleAPIKey),
		Dispatcher: c.Dispatcher,
		Audio:      c.Audio,
		Prices: models.PriceIDs{
			models.PlanSingle: cfg.PriceIDSingle,
			models.PlanBasic:  cfg.PriceIDBasic,
			models.PlanPro:    cfg.PriceIDPro,
		},
		AppURL: cfg.AppURL,
	})
	c.Webhooks = services.NewWebhookService(c.Store, c.Analyses, cfg.PaddleWebhookSecret)
	c.Sweeper = services.NewSweeper(c.Store, c.Analyses, c.Audio, services.SweeperConfig{
		StaleAfter:  cfg.StaleAfter,
		MaxAttempts: cfg.MaxProcessingAttempts,
	})
	return c, nil
}

// Consumer returns the SQS worker loop, or an error when the queue driver is not sqs.
func (c *Components) Consumer() (*queue.SQSConsumer, error) {
	if c.SQS == nil {
		return nil, errors.New("QUEUE_DRIVER must be sqs to run a queue worker")
	}
	return queue.NewSQSConsumer(c.SQS, c.Config.SQSQueueURL, c.Processor.Process, c.Config.ProcessingLease), nil
}

// Close drains the in-process worker pool.
func (c *Components) Close(ctx context.Context) error {
	if c.local != nil {
		return c.local.Close(ctx)
	}
	return nil
}

func reportFailure(analysisID uuid.UUID, message string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("analysis_id", analysisID.String())
		sentry.CaptureException(errors.New(message))
	})
}
