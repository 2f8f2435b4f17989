package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyarchive/ingest/internal/filename"
)

// ExpirationEntry marks one observation for future removal. Entries are
// created at most once per base identifier, never mutated, and removed only
// by the store's own TTL sweep.
type ExpirationEntry struct {
	BaseID      string
	StorageArea string
	ExpiresAt   int64 // epoch seconds
}

// ExpirationStore persists expiration entries. PutIfAbsent is conditional on
// the key not existing: a duplicate attempt is a silent no-op, so the sweep
// fires exactly once per observation no matter how many files re-trigger
// registration.
type ExpirationStore interface {
	PutIfAbsent(ctx context.Context, entry ExpirationEntry) error
}

// ObservationDeleter is the slice of the observation store the cascade needs.
type ObservationDeleter interface {
	Delete(ctx context.Context, baseID string) error
}

// ObjectDeleter is the slice of the object store the cascade needs.
type ObjectDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Scheduler registers pending expirations at ingestion time and reacts to
// the store's removal notifications by cascading deletion.
type Scheduler struct {
	entries      ExpirationStore
	objects      ObjectDeleter
	observations ObservationDeleter
	now          func() time.Time
}

func NewScheduler(entries ExpirationStore, objects ObjectDeleter, observations ObservationDeleter) *Scheduler {
	return &Scheduler{
		entries:      entries,
		objects:      objects,
		observations: observations,
		now:          time.Now,
	}
}

// RegisterIfExpiring records an expiration entry for baseID when its data
// class is retention-limited. Non-expiring classes are a no-op. The
// conditional create makes concurrent or redelivered registrations converge
// on a single entry.
func (s *Scheduler) RegisterIfExpiring(ctx context.Context, baseID, dataClass, storageArea string) error {
	lifespan, ok := Lifespan(filename.SiteOf(baseID), dataClass)
	if !ok {
		return nil
	}

	entry := ExpirationEntry{
		BaseID:      baseID,
		StorageArea: storageArea,
		ExpiresAt:   s.now().Add(lifespan).Unix(),
	}
	if err := s.entries.PutIfAbsent(ctx, entry); err != nil {
		return fmt.Errorf("register expiration for %s: %w", baseID, err)
	}

	slog.Info("registered expiration",
		"base_id", baseID,
		"data_class", dataClass,
		"lifespan", lifespan,
	)
	return nil
}

// CascadeOnExpiry erases the data belonging to an expired entry. It is
// invoked for the retention table's removal notifications only; callers
// filter out creation and update events.
//
// The base identifier is validated before anything is deleted: a corrupted
// key must never select objects it does not own. Likewise an unrecognized
// storage area skips the cascade instead of guessing a deletion target.
func (s *Scheduler) CascadeOnExpiry(ctx context.Context, baseID, storageArea string) error {
	if err := filename.ValidateBaseID(baseID); err != nil {
		slog.Warn("retention cascade skipped: bad base id", "base_id", baseID, "error", err)
		return nil
	}

	switch storageArea {
	case AreaData, AreaInfoImages:
	default:
		slog.Warn("retention cascade skipped: unknown storage area",
			"base_id", baseID,
			"storage_area", storageArea,
		)
		return nil
	}

	prefix := storageArea + "/" + baseID
	deleted, err := s.objects.DeletePrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("cascade delete objects under %s: %w", prefix, err)
	}
	slog.Info("retention cascade deleted objects", "prefix", prefix, "count", deleted)

	// Info imagery keeps its observation row (there is none to begin with);
	// only primary data erases the record.
	if storageArea == AreaData {
		if err := s.observations.Delete(ctx, baseID); err != nil {
			return fmt.Errorf("cascade delete observation %s: %w", baseID, err)
		}
	}

	return nil
}
