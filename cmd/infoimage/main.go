package main

import (
	"context"
	"log/slog"
	"net/url"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/skyarchive/ingest/internal/app"
	"github.com/skyarchive/ingest/internal/config"
	"github.com/skyarchive/ingest/internal/events"
	"github.com/skyarchive/ingest/internal/logger"
)

func main() {
	cfg := config.Load()

	logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		panic(err)
	}
	if a.InfoImages == nil {
		slog.Error("INFO_IMAGES_TABLE must be configured for this handler")
		panic("missing info images table")
	}

	lambda.Start(func(ctx context.Context, ev lambdaevents.S3Event) error {
		for _, record := range ev.Records {
			key, err := url.QueryUnescape(record.S3.Object.Key)
			if err != nil {
				slog.Warn("skipping record with undecodable key", "key", record.S3.Object.Key, "error", err)
				continue
			}

			created := events.ObjectCreated{
				Bucket:    record.S3.Bucket.Name,
				Key:       key,
				EventTime: record.EventTime,
				SizeBytes: record.S3.Object.Size,
			}
			if err := a.InfoImages.HandleCreated(ctx, created); err != nil {
				return err
			}
		}
		return nil
	})
}
