package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/skyarchive/ingest/internal/filename"
	"github.com/skyarchive/ingest/internal/model"
)

var (
	ErrObservationNotFound = errors.New("observation not found")
)

// ObservationRepository owns the idempotent merge protocol over observation
// rows. Both upserts are create-or-update partial merges: a call only ever
// touches the columns it supplies, so concurrent out-of-order arrivals for
// the same base identifier converge on the union of their fields. No locking
// happens at this layer; the database's atomic upsert is the only
// synchronization.
type ObservationRepository interface {
	UpsertHeader(ctx context.Context, baseID, dataClass string, attrs model.HeaderAttrs, eventTime time.Time) error
	UpsertArtifact(ctx context.Context, baseID, dataClass, reductionLevel, fileType string, eventTime time.Time) error
	Exists(ctx context.Context, baseID string) (bool, error)
	HasHeader(ctx context.Context, baseID string) (bool, error)
	ByBaseID(ctx context.Context, baseID string) (*model.Observation, error)
	Delete(ctx context.Context, baseID string) error
}

type observationRepository struct {
	db *sqlx.DB
}

func NewObservationRepository(db *sqlx.DB) *observationRepository {
	return &observationRepository{db: db}
}

// UpsertHeader merges the header-derived columns into the row for baseID,
// creating it if needed. Artifact flags are never touched, so a redelivered
// header cannot clobber previously recorded files. The data class follows
// last-write-wins. When the header carries no usable capture time, the
// capture column stays null and sorting falls back to the event time of the
// triggering notification.
func (r *observationRepository) UpsertHeader(ctx context.Context, baseID, dataClass string, attrs model.HeaderAttrs, eventTime time.Time) error {
	var captureTime *time.Time
	sortTime := eventTime.UTC()
	if attrs.CaptureTime != nil {
		captureTime = attrs.CaptureTime
		sortTime = *attrs.CaptureTime
	}

	query := `INSERT INTO observations (base_id, site, data_class, capture_time, sort_time,
	            right_ascension, declination, altitude, azimuth, airmass, exposure_time,
	            filter_used, user_id, username, header)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          ON CONFLICT (base_id) DO UPDATE SET
	            data_class = excluded.data_class,
	            capture_time = excluded.capture_time,
	            sort_time = excluded.sort_time,
	            right_ascension = excluded.right_ascension,
	            declination = excluded.declination,
	            altitude = excluded.altitude,
	            azimuth = excluded.azimuth,
	            airmass = excluded.airmass,
	            exposure_time = excluded.exposure_time,
	            filter_used = excluded.filter_used,
	            user_id = excluded.user_id,
	            username = excluded.username,
	            header = excluded.header`

	_, err := r.db.ExecContext(ctx, query,
		baseID,
		filename.SiteOf(baseID),
		dataClass,
		captureTime,
		sortTime,
		attrs.RightAscension,
		attrs.Declination,
		attrs.Altitude,
		attrs.Azimuth,
		attrs.Airmass,
		attrs.ExposureTime,
		attrs.Filter,
		attrs.UserID,
		attrs.Username,
		attrs.Header,
	)
	if err != nil {
		return fmt.Errorf("upsert header for %s: %w", baseID, err)
	}

	return nil
}

// UpsertArtifact records the existence of one artifact file by setting its
// flag column, creating the row if this file is the observation's first
// arrival. The flag column comes from a closed lookup table, never from the
// input itself; an unrecognized (fileType, reductionLevel) combination is
// logged and ignored without touching the row. On an existing row only the
// flag and the data class change, which makes redelivery a no-op.
func (r *observationRepository) UpsertArtifact(ctx context.Context, baseID, dataClass, reductionLevel, fileType string, eventTime time.Time) error {
	flag, ok := model.ArtifactFlagColumn(fileType, reductionLevel)
	if !ok {
		slog.Warn("unknown artifact classification, ignoring",
			"base_id", baseID,
			"data_class", dataClass,
			"reduction_level", reductionLevel,
			"file_type", fileType,
		)
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO observations (base_id, site, data_class, sort_time, %[1]s)
	          VALUES ($1, $2, $3, $4, TRUE)
	          ON CONFLICT (base_id) DO UPDATE SET
	            data_class = excluded.data_class,
	            %[1]s = TRUE`, flag)

	_, err := r.db.ExecContext(ctx, query, baseID, filename.SiteOf(baseID), dataClass, eventTime.UTC())
	if err != nil {
		return fmt.Errorf("upsert artifact %s for %s: %w", flag, baseID, err)
	}

	return nil
}

func (r *observationRepository) Exists(ctx context.Context, baseID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM observations WHERE base_id = $1`, baseID)
	if err != nil {
		return false, fmt.Errorf("check observation %s: %w", baseID, err)
	}
	return n > 0, nil
}

// HasHeader reports whether a header has already been merged for baseID.
// A missing row counts as no header.
func (r *observationRepository) HasHeader(ctx context.Context, baseID string) (bool, error) {
	var has bool
	err := r.db.GetContext(ctx, &has, `SELECT header IS NOT NULL FROM observations WHERE base_id = $1`, baseID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check header for %s: %w", baseID, err)
	}
	return has, nil
}

func (r *observationRepository) ByBaseID(ctx context.Context, baseID string) (*model.Observation, error) {
	obs := &model.Observation{}
	err := r.db.GetContext(ctx, obs, `SELECT * FROM observations WHERE base_id = $1`, baseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrObservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load observation %s: %w", baseID, err)
	}
	return obs, nil
}

func (r *observationRepository) Delete(ctx context.Context, baseID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM observations WHERE base_id = $1`, baseID)
	if err != nil {
		return fmt.Errorf("delete observation %s: %w", baseID, err)
	}
	return nil
}
