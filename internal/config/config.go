package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	StoreDriver string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Identity provider tokens (HS256 shared secret or JWKS)
	JWTSecret  string
	JWTJWKSURL string

	// Payment gateway (Paddle Billing)
	PaddleAPIKey        string
	PaddleEnv           string
	PaddleWebhookSecret string
	PriceIDSingle       string
	PriceIDBasic        string
	PriceIDPro          string

	// AI provider
	OpenAIAPIKey          string
	OpenAIAPIURL          string
	OpenAITranscribeModel string
	AITimeout             time.Duration

	// Audio storage
	StorageDriver string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string

	// Worker dispatch
	QueueDriver           string
	SQSQueueURL           string
	SQSEndpoint           string
	WorkerConcurrency     int
	ProcessingLease       time.Duration
	StaleAfter            time.Duration
	MaxProcessingAttempts int
	SweepInterval         time.Duration

	// Logging / observability
	LogLevel         string
	LogRetentionDays int
	SentryDSN        string
	AppEnv           string

	// Server
	Port        string
	CORSOrigins string
	AppURL      string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "contractear"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTJWKSURL: getEnv("JWT_JWKS_URL", ""),

		PaddleAPIKey:        getEnv("PADDLE_API_KEY", ""),
		PaddleEnv:           getEnv("PADDLE_ENV", "sandbox"),
		PaddleWebhookSecret: getEnv("PADDLE_WEBHOOK_SECRET", ""),
		PriceIDSingle:       getEnv("PADDLE_PRICE_ID_SINGLE", ""),
		PriceIDBasic:        getEnv("PADDLE_PRICE_ID_BASIC", ""),
		PriceIDPro:          getEnv("PADDLE_PRICE_ID_PRO", ""),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIURL:          getEnv("OPENAI_API_URL", "https://api.openai.com/v1"),
		OpenAITranscribeModel: getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		AITimeout:             parseDuration(getEnv("AI_TIMEOUT", "120s"), 120*time.Second),

		StorageDriver: getEnv("STORAGE_DRIVER", "s3"),
		S3Bucket:      getEnv("S3_BUCKET", "audio-uploads"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),

		QueueDriver:           getEnv("QUEUE_DRIVER", "local"),
		SQSQueueURL:           getEnv("SQS_QUEUE_URL", ""),
		SQSEndpoint:           getEnv("SQS_ENDPOINT", ""),
		WorkerConcurrency:     parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		ProcessingLease:       parseDuration(getEnv("PROCESSING_LEASE", "15m"), 15*time.Minute),
		StaleAfter:            parseDuration(getEnv("STALE_AFTER", "20m"), 20*time.Minute),
		MaxProcessingAttempts: parseInt(getEnv("MAX_PROCESSING_ATTEMPTS", "3"), 3),
		SweepInterval:         parseDuration(getEnv("SWEEP_INTERVAL", "5m"), 5*time.Minute),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogRetentionDays: parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		AppEnv:           getEnv("APP_ENV", "development"),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
	}
}

// Validate reports every required setting that is missing for the selected drivers.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" && c.JWTJWKSURL == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWT_JWKS_URL is required"))
	}
	if c.StoreDriver == "postgres" && c.DBPassword == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required for the postgres store"))
	}
	if c.PaddleWebhookSecret == "" {
		errs = append(errs, errors.New("PADDLE_WEBHOOK_SECRET is required"))
	}
	if c.PaddleAPIKey == "" {
		errs = append(errs, errors.New("PADDLE_API_KEY is required"))
	}
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.StorageDriver == "s3" && c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required for the s3 storage driver"))
	}
	if c.QueueDriver == "sqs" && c.SQSQueueURL == "" {
		errs = append(errs, errors.New("SQS_QUEUE_URL is required for the sqs queue driver"))
	}
	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// PaddleBaseURL returns the REST base for the configured gateway environment.
func (c *Config) PaddleBaseURL() string {
	if c.PaddleEnv == "production" {
		return "https://api.paddle.com"
	}
	return "https://sandbox-api.paddle.com"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
