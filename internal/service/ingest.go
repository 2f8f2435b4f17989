package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skyarchive/ingest/internal/events"
	"github.com/skyarchive/ingest/internal/filename"
	"github.com/skyarchive/ingest/internal/fitshdr"
	"github.com/skyarchive/ingest/internal/model"
	"github.com/skyarchive/ingest/internal/notify"
	"github.com/skyarchive/ingest/internal/repository"
	"github.com/skyarchive/ingest/internal/retention"
	"github.com/skyarchive/ingest/internal/storage"
)

// IngestPayload is the fan-out payload emitted after a successful ingestion.
type IngestPayload struct {
	StorageArea string `json:"storage_area"`
	BaseID      string `json:"base_id"`
	Site        string `json:"site"`
}

// Registrar is the slice of the retention scheduler the coordinator needs.
type Registrar interface {
	RegisterIfExpiring(ctx context.Context, baseID, dataClass, storageArea string) error
}

// UploadRecorder logs raw bucket arrivals for the activity views.
type UploadRecorder interface {
	Record(ctx context.Context, ev events.ObjectCreated) error
}

// IngestionCoordinator sequences the handling of one object-created
// notification: parse the filename, classify, decode the header when there
// is one, merge into the observation store, register retention, and fan out.
//
// Each invocation is stateless; correctness under concurrent or redelivered
// notifications comes entirely from the store's idempotent merges and the
// conditional expiration create.
type IngestionCoordinator struct {
	observations repository.ObservationRepository
	objects      storage.ObjectStore
	retention    Registrar
	publisher    notify.Publisher
	uploadLog    UploadRecorder // optional
}

func NewIngestionCoordinator(
	observations repository.ObservationRepository,
	objects storage.ObjectStore,
	retention Registrar,
	publisher notify.Publisher,
	uploadLog UploadRecorder,
) *IngestionCoordinator {
	return &IngestionCoordinator{
		observations: observations,
		objects:      objects,
		retention:    retention,
		publisher:    publisher,
		uploadLog:    uploadLog,
	}
}

// Ingest handles one notification. A malformed or unclassifiable filename is
// logged and dropped without touching the observation store (the upload log
// still records the arrival); storage failures propagate so the
// delivery mechanism redelivers (every mutation on this path is safely
// re-appliable). The trailing fan-out is best effort and never rolls back
// the committed storage outcome.
func (c *IngestionCoordinator) Ingest(ctx context.Context, ev events.ObjectCreated) error {
	// Every bucket arrival lands in the upload log, even files the pipeline
	// goes on to drop.
	if c.uploadLog != nil {
		if logErr := c.uploadLog.Record(ctx, ev); logErr != nil {
			slog.Warn("failed to record upload", "key", ev.Key, "error", logErr)
		}
	}

	parsed, err := filename.Parse(ev.Filename())
	if err != nil {
		slog.Warn("dropping notification with invalid filename", "key", ev.Key, "error", err)
		return nil
	}

	log := slog.With("base_id", parsed.BaseID, "key", ev.Key)

	switch parsed.Extension {
	case "txt":
		err = c.ingestHeader(ctx, ev, parsed)
	case "fits", "jpg":
		err = c.ingestArtifact(ctx, ev, parsed)
	default:
		log.Warn("dropping notification with unrecognized file type", "extension", parsed.Extension)
		return nil
	}
	if err != nil {
		return err
	}

	if pubErr := c.publisher.Publish(ctx, parsed.Site, IngestPayload{
		StorageArea: ev.StorageArea(),
		BaseID:      parsed.BaseID,
		Site:        parsed.Site,
	}); pubErr != nil {
		log.Warn("failed to publish ingestion event", "error", pubErr)
	}

	return nil
}

// ingestHeader decodes a text header file and merges its attributes. The
// decode happens fully in memory before any store call, so a partial decode
// never partially writes.
func (c *IngestionCoordinator) ingestHeader(ctx context.Context, ev events.ObjectCreated, parsed filename.Parsed) error {
	body, err := c.objects.Get(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("fetch header %s: %w", ev.Key, err)
	}

	hdr := fitshdr.DecodeText(body)
	attrs := model.HeaderAttrsFromMap(hdr)

	if err := c.observations.UpsertHeader(ctx, parsed.BaseID, parsed.DataClass, attrs, ev.EventTime); err != nil {
		return err
	}

	slog.Info("merged header", "base_id", parsed.BaseID, "attributes", len(hdr))
	return nil
}

// ingestArtifact records an artifact flag, registers retention for expiring
// classes, and, for fits images arriving before their text header, merges a
// substitute header from the image itself so metadata is never permanently
// missing. The substitution runs at most once per observation.
func (c *IngestionCoordinator) ingestArtifact(ctx context.Context, ev events.ObjectCreated, parsed filename.Parsed) error {
	if err := c.observations.UpsertArtifact(ctx, parsed.BaseID, parsed.DataClass, parsed.ReductionLevel, parsed.Extension, ev.EventTime); err != nil {
		return err
	}

	if retention.Expires(parsed.DataClass) {
		if err := c.retention.RegisterIfExpiring(ctx, parsed.BaseID, parsed.DataClass, ev.StorageArea()); err != nil {
			return err
		}
	}

	if parsed.Extension == "fits" {
		if err := c.headerFromImage(ctx, ev, parsed); err != nil {
			return err
		}
	}

	return nil
}

func (c *IngestionCoordinator) headerFromImage(ctx context.Context, ev events.ObjectCreated, parsed filename.Parsed) error {
	has, err := c.observations.HasHeader(ctx, parsed.BaseID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	body, err := c.objects.Get(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("fetch image for header fallback %s: %w", ev.Key, err)
	}

	hdr, err := fitshdr.DecodeImage(body)
	if err != nil {
		// A malformed image is not retryable; the text header can still
		// arrive on its own.
		slog.Warn("header fallback decode failed", "key", ev.Key, "error", err)
		return nil
	}

	attrs := model.HeaderAttrsFromMap(hdr)
	if err := c.observations.UpsertHeader(ctx, parsed.BaseID, parsed.DataClass, attrs, ev.EventTime); err != nil {
		return err
	}

	slog.Info("merged header from image fallback", "base_id", parsed.BaseID)
	return nil
}
