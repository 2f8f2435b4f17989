package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Storage (S3-compatible: AWS S3, MinIO, etc.)
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3Endpoint      string // Optional: for S3-compatible services
	S3PresignExpiry time.Duration

	// Retention
	ExpirationTable string

	// Auxiliary tables
	UploadsLogTable string
	UploadsLogTTL   time.Duration
	InfoImagesTable string
	InfoImagesTTL   time.Duration

	// Fan-out
	QueueName string

	// Observability (optional)
	SentryDSN string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	return &Config{
		// Application
		AppName: envString("APP_NAME", "skyarchive-ingest"),
		AppEnv:  envString("APP_ENV", "production"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/observations.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Storage
		S3Region:        envRequired("S3_REGION"),
		S3Bucket:        envRequired("S3_BUCKET"),
		S3AccessKey:     envString("S3_ACCESS_KEY", ""),
		S3SecretKey:     envString("S3_SECRET_KEY", ""),
		S3Endpoint:      envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
		S3PresignExpiry: envDuration("S3_PRESIGN_EXPIRY", 168*time.Hour),

		// Retention
		ExpirationTable: envRequired("EXPIRATION_TABLE"),

		// Auxiliary tables
		UploadsLogTable: envString("UPLOADS_LOG_TABLE", ""),
		UploadsLogTTL:   envDuration("UPLOADS_LOG_TTL", 48*time.Hour),
		InfoImagesTable: envString("INFO_IMAGES_TABLE", ""),
		InfoImagesTTL:   envDuration("INFO_IMAGES_TTL", 24*time.Hour),

		// Fan-out
		QueueName: envRequired("QUEUE_NAME"),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
