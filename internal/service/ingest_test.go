package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyarchive/ingest/internal/db"
	"github.com/skyarchive/ingest/internal/events"
	"github.com/skyarchive/ingest/internal/repository"
	"github.com/skyarchive/ingest/internal/retention"
)

// fakeObjectStore serves objects from memory and counts reads per key.
type fakeObjectStore struct {
	objects  map[string][]byte
	getCalls map[string]int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:  map[string][]byte{},
		getCalls: map[string]int{},
	}
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.getCalls[key]++
	body, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return body, nil
}

func (f *fakeObjectStore) Save(ctx context.Context, key string, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = b
	return nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeObjectStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

type fakeRegistrar struct {
	registered []string
}

func (f *fakeRegistrar) RegisterIfExpiring(ctx context.Context, baseID, dataClass, storageArea string) error {
	f.registered = append(f.registered, baseID)
	return nil
}

type fakePublisher struct {
	sites    []string
	payloads []any
}

func (f *fakePublisher) Publish(ctx context.Context, site string, data any) error {
	f.sites = append(f.sites, site)
	f.payloads = append(f.payloads, data)
	return nil
}

type fixture struct {
	coordinator *IngestionCoordinator
	repo        repository.ObservationRepository
	objects     *fakeObjectStore
	registrar   *fakeRegistrar
	publisher   *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbx, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	// A second pool connection would get its own empty in-memory database.
	dbx.SetMaxOpenConns(1)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, db.RunMigrations(dbx.DB, "sqlite"))

	f := &fixture{
		repo:      repository.NewObservationRepository(dbx),
		objects:   newFakeObjectStore(),
		registrar: &fakeRegistrar{},
		publisher: &fakePublisher{},
	}
	f.coordinator = NewIngestionCoordinator(f.repo, f.objects, f.registrar, f.publisher, nil)
	return f
}

func (f *fixture) put(key string, body []byte) {
	f.objects.objects[key] = body
}

func created(key string) events.ObjectCreated {
	return events.ObjectCreated{
		Bucket:    "archive",
		Key:       key,
		EventTime: time.Date(2019, 6, 21, 4, 35, 0, 0, time.UTC),
		SizeBytes: int64(1024),
	}
}

// headerRecord builds one 80-byte text header record.
func headerRecord(name, rest string) string {
	rec := fmt.Sprintf("%-8s= %s", name, rest)
	if len(rec) < 80 {
		rec += strings.Repeat(" ", 80-len(rec))
	}
	return rec[:80]
}

func headerText(records ...string) []byte {
	return []byte(strings.Join(records, "") + "END" + strings.Repeat(" ", 77))
}

// fitsImage builds a header-only FITS primary HDU padded to the block size.
func fitsImage(records ...string) []byte {
	var sb strings.Builder
	sb.WriteString(headerRecord("SIMPLE", "                   T"))
	sb.WriteString(headerRecord("BITPIX", "                   8"))
	sb.WriteString(headerRecord("NAXIS", "                   0"))
	for _, r := range records {
		sb.WriteString(r)
	}
	sb.WriteString("END" + strings.Repeat(" ", 77))
	for sb.Len()%2880 != 0 {
		sb.WriteString(" ")
	}
	return []byte(sb.String())
}

const e2eBaseID = "wmd-ea03-20190621-00000007"

func TestIngestHeaderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := "data/" + e2eBaseID + "-EX00.txt"
	f.put(key, headerText(
		headerRecord("DATE-OBS", "'2019-06-21T04:30:00.123'"),
		headerRecord("AIRMASS", "                 1.2"),
		headerRecord("FILTER", "'B'"),
	))

	require.NoError(t, f.coordinator.Ingest(ctx, created(key)))

	obs, err := f.repo.ByBaseID(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.Equal(t, "wmd", obs.Site)
	assert.Equal(t, "EX", obs.DataClass.String)
	assert.True(t, obs.CaptureTime.Time.Equal(time.Date(2019, 6, 21, 4, 30, 0, 123000000, time.UTC)))
	assert.True(t, obs.SortTime.Time.Equal(obs.CaptureTime.Time))
	assert.InEpsilon(t, 1.2, obs.Airmass.Float64, 1e-9)
	assert.Equal(t, "B", obs.FilterUsed.String)
	assert.True(t, obs.Header.Valid)

	assert.False(t, obs.Fits01Exists)
	assert.False(t, obs.Fits10Exists)
	assert.False(t, obs.JpgMediumExists)
	assert.False(t, obs.JpgSmallExists)

	assert.Empty(t, f.registrar.registered)
	assert.Equal(t, []string{"wmd"}, f.publisher.sites)
}

func TestIngestArtifactOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := "data/" + e2eBaseID + "-EX10.jpg"
	require.NoError(t, f.coordinator.Ingest(ctx, created(key)))

	obs, err := f.repo.ByBaseID(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.True(t, obs.JpgMediumExists)
	assert.False(t, obs.Header.Valid)
	assert.False(t, obs.CaptureTime.Valid)
	// Row is still orderable before its header arrives.
	assert.True(t, obs.SortTime.Time.Equal(created(key).EventTime))

	// Never fetched: jpg artifacts carry no embedded header.
	assert.Zero(t, f.objects.getCalls[key])
}

func TestIngestHeaderRedeliveryUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	headerKey := "data/" + e2eBaseID + "-EX00.txt"
	f.put(headerKey, headerText(
		headerRecord("DATE-OBS", "'2019-06-21T04:30:00'"),
		headerRecord("EXPTIME", "                30.5"),
	))
	artifactKey := "data/" + e2eBaseID + "-EX01.fits.bz2"
	f.put(artifactKey, fitsImage())

	require.NoError(t, f.coordinator.Ingest(ctx, created(headerKey)))
	require.NoError(t, f.coordinator.Ingest(ctx, created(artifactKey)))

	before, err := f.repo.ByBaseID(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.True(t, before.Fits01Exists)
	assert.True(t, before.Header.Valid)

	// Redelivered header notification must be a no-op.
	require.NoError(t, f.coordinator.Ingest(ctx, created(headerKey)))

	after, err := f.repo.ByBaseID(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIngestRawFitsHeaderFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := "data/" + e2eBaseID + "-EX00.fits.fz"
	f.put(key, fitsImage(
		headerRecord("DATE-OBS", "'2019-06-21T04:30:00'"),
		headerRecord("AIRMASS", "                 1.2"),
		headerRecord("FILTER", "'V'"),
	))

	require.NoError(t, f.coordinator.Ingest(ctx, created(key)))

	obs, err := f.repo.ByBaseID(ctx, e2eBaseID)
	require.NoError(t, err)
	// Raw frames set no artifact flag but still donate their header.
	assert.False(t, obs.Fits01Exists)
	assert.False(t, obs.Fits10Exists)
	assert.True(t, obs.Header.Valid)
	assert.Equal(t, "V", obs.FilterUsed.String)
	assert.Equal(t, 1, f.objects.getCalls[key])

	// Once a header exists the fallback must not fetch the image again.
	require.NoError(t, f.coordinator.Ingest(ctx, created(key)))
	assert.Equal(t, 1, f.objects.getCalls[key])
}

func TestIngestExpiringClassRegistersRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.put("data/"+e2eBaseID+"-EP10.fits.bz2", fitsImage())
	require.NoError(t, f.coordinator.Ingest(ctx, created("data/"+e2eBaseID+"-EP10.fits.bz2")))
	assert.Equal(t, []string{e2eBaseID}, f.registrar.registered)

	// Long-lived classes never reach the registrar.
	f.put("data/"+e2eBaseID+"-EX10.fits.bz2", fitsImage())
	require.NoError(t, f.coordinator.Ingest(ctx, created("data/"+e2eBaseID+"-EX10.fits.bz2")))
	assert.Equal(t, []string{e2eBaseID}, f.registrar.registered)
}

func TestIngestInvalidFilenameDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coordinator.Ingest(ctx, created("data/thumbs.db")))
	require.NoError(t, f.coordinator.Ingest(ctx, created("data/"+e2eBaseID+"-EX10.csv")))

	exists, err := f.repo.Exists(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.publisher.sites)
}

func TestIngestStoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Header object missing from storage: the fetch error must surface so
	// the notification is redelivered.
	err := f.coordinator.Ingest(ctx, created("data/"+e2eBaseID+"-EX00.txt"))
	require.Error(t, err)
	assert.Empty(t, f.publisher.sites)
}

type fakeUploadRecorder struct {
	keys []string
}

func (f *fakeUploadRecorder) Record(ctx context.Context, ev events.ObjectCreated) error {
	f.keys = append(f.keys, ev.Key)
	return nil
}

func TestIngestRecordsEveryUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recorder := &fakeUploadRecorder{}
	f.coordinator = NewIngestionCoordinator(f.repo, f.objects, f.registrar, f.publisher, recorder)

	validKey := "data/" + e2eBaseID + "-EX10.jpg"
	require.NoError(t, f.coordinator.Ingest(ctx, created(validKey)))

	// Files the pipeline drops still show up in the activity log.
	require.NoError(t, f.coordinator.Ingest(ctx, created("data/thumbs.db")))
	require.NoError(t, f.coordinator.Ingest(ctx, created("data/"+e2eBaseID+"-EX10.csv")))

	assert.Equal(t, []string{validKey, "data/thumbs.db", "data/" + e2eBaseID + "-EX10.csv"}, recorder.keys)
	assert.Equal(t, []string{"wmd"}, f.publisher.sites)
}

type fakeExpirationStore struct {
	entries []retention.ExpirationEntry
}

func (f *fakeExpirationStore) PutIfAbsent(ctx context.Context, entry retention.ExpirationEntry) error {
	for _, e := range f.entries {
		if e.BaseID == entry.BaseID {
			return nil
		}
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestIngestThenExpiryCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entries := &fakeExpirationStore{}
	scheduler := retention.NewScheduler(entries, f.objects, f.repo)
	f.coordinator = NewIngestionCoordinator(f.repo, f.objects, scheduler, f.publisher, nil)

	expiring := "tst-test-20200924-00000041"
	for _, key := range []string{
		"data/" + expiring + "-EP10.jpg",
		"data/" + expiring + "-EP11.jpg",
	} {
		f.put(key, []byte("jpeg"))
		require.NoError(t, f.coordinator.Ingest(ctx, created(key)))
	}
	require.Len(t, entries.entries, 1)

	// An unrelated observation must survive the cascade untouched.
	bystanderKey := "data/" + e2eBaseID + "-EX10.jpg"
	f.put(bystanderKey, []byte("jpeg"))
	require.NoError(t, f.coordinator.Ingest(ctx, created(bystanderKey)))

	entry := entries.entries[0]
	require.NoError(t, scheduler.CascadeOnExpiry(ctx, entry.BaseID, entry.StorageArea))

	exists, err := f.repo.Exists(ctx, expiring)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NotContains(t, f.objects.objects, "data/"+expiring+"-EP10.jpg")
	assert.NotContains(t, f.objects.objects, "data/"+expiring+"-EP11.jpg")

	exists, err = f.repo.Exists(ctx, e2eBaseID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, f.objects.objects, bystanderKey)
}

func TestIngestPayloadShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := "data/" + e2eBaseID + "-EX10.jpg"
	require.NoError(t, f.coordinator.Ingest(ctx, created(key)))

	require.Len(t, f.publisher.payloads, 1)
	assert.Equal(t, IngestPayload{
		StorageArea: "data",
		BaseID:      e2eBaseID,
		Site:        "wmd",
	}, f.publisher.payloads[0])
}
