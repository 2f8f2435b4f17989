package main

import (
	"context"
	"log/slog"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/skyarchive/ingest/internal/app"
	"github.com/skyarchive/ingest/internal/config"
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

	// The expiration table's stream delivers INSERT, MODIFY and REMOVE
	// events. Only TTL removals start a cascade.
	lambda.Start(func(ctx context.Context, ev lambdaevents.DynamoDBEvent) error {
		for _, record := range ev.Records {
			if record.EventName != "REMOVE" {
				continue
			}

			baseID := record.Change.Keys["base_id"].String()
			storageArea := record.Change.OldImage["storage_area"].String()
			if err := a.Scheduler.CascadeOnExpiry(ctx, baseID, storageArea); err != nil {
				return err
			}
		}
		return nil
	})
}
