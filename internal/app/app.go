package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"

	"github.com/skyarchive/ingest/internal/config"
	"github.com/skyarchive/ingest/internal/db"
	"github.com/skyarchive/ingest/internal/notify"
	"github.com/skyarchive/ingest/internal/repository"
	"github.com/skyarchive/ingest/internal/retention"
	"github.com/skyarchive/ingest/internal/service"
	"github.com/skyarchive/ingest/internal/storage"
)

// Topic tags every fan-out message so downstream consumers can route on it.
const Topic = "imagedata"

type App struct {
	Cfg          *config.Config
	DB           *sqlx.DB
	Storage      storage.ObjectStore
	Coordinator  *service.IngestionCoordinator
	Scheduler    *retention.Scheduler
	InfoImages   *service.InfoImageService
	Observations repository.ObservationRepository
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	observationRepository := repository.NewObservationRepository(database)

	// Storage
	objectStorage, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}

	// AWS clients (DynamoDB, SQS) share one config from the default chain
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %v", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	publisher, err := notify.NewSQSPublisher(ctx, sqsClient, cfg.QueueName, Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %v", err)
	}

	// Retention
	expirationStore := retention.NewDynamoExpirationStore(dynamoClient, cfg.ExpirationTable)
	scheduler := retention.NewScheduler(expirationStore, objectStorage, observationRepository)

	// Services
	var uploadLog service.UploadRecorder
	if cfg.UploadsLogTable != "" {
		uploadLog = service.NewUploadLog(dynamoClient, cfg.UploadsLogTable, int64(cfg.UploadsLogTTL.Seconds()))
	}
	coordinator := service.NewIngestionCoordinator(
		observationRepository,
		objectStorage,
		scheduler,
		publisher,
		uploadLog,
	)

	var infoImages *service.InfoImageService
	if cfg.InfoImagesTable != "" {
		infoImages = service.NewInfoImageService(dynamoClient, cfg.InfoImagesTable, cfg.InfoImagesTTL, objectStorage, publisher)
	}

	return &App{
		Cfg:          cfg,
		DB:           database,
		Storage:      objectStorage,
		Coordinator:  coordinator,
		Scheduler:    scheduler,
		InfoImages:   infoImages,
		Observations: observationRepository,
	}, nil
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
