package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/config"
	"github.com/bizdata-inc/listing-engine/pkg/metrics"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/normalize"
	"github.com/bizdata-inc/listing-engine/pkg/retry"
)

const listingsCSV = `Business Name,Address,Contact Number,City,State,Category,Star Rating,Reviews
Sunrise Bakery,12 MG Road,+91 9876543210,Pune,MH,Bakeries,4.5,120
Moonlight Cafe,44 FC Road,+91 9876543211,Pune,MH,Cafes,4.1,80
Star Hardware,9 JM Road,+91 9876543212,Pune,MH,Hardware Stores,3.9,15
Lotus Books,2 Law College Road,+91 9876543213,Pune,MH,Book Stores,4.8,240
Green Grocers,7 Karve Road,+91 9876543214,Pune,MH,Grocery Stores,4.2,60
`

func newIngestFixture(t *testing.T) (*fakeDrive, *fakeRegistry, *fakeRawRepo, *IngestDeps) {
	t.Helper()
	driveClient := newFakeDrive()
	registry := newFakeRegistry()
	raw := newFakeRawRepo()
	deps := &IngestDeps{
		Drive:    driveClient,
		Registry: registry,
		Raw:      raw,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Config: config.IngestConfig{
			BatchSize:    2,
			MaxFieldLen:  500,
			SourceSystem: "google_drive",
			ETLVersion:   "2.0.0",
		},
		Logger: zap.NewNop(),
	}
	return driveClient, registry, raw, deps
}

func sourceFile(id, name, modified string) models.SourceFile {
	return models.SourceFile{
		ID:           id,
		Name:         name,
		Path:         "pune/retail",
		ModifiedTime: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Fingerprint:  normalize.Fingerprint(id, modified),
	}
}

func TestIngestTaskLandsAllRows(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	file := sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z")

	task := NewIngestTask(file, deps)
	require.NoError(t, task.Execute(context.Background(), nil))

	assert.Equal(t, 5, raw.count())
	// BatchSize 2 means three flushes for five rows.
	assert.Equal(t, 3, raw.insertions)

	rec, err := registry.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessed, rec.Status)
	assert.Equal(t, int64(5), rec.LastProcessedRow)
	assert.Equal(t, file.Fingerprint, rec.Fingerprint)
}

func TestIngestTaskNormalizesRows(t *testing.T) {
	driveClient, _, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	task := NewIngestTask(sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z"), deps)

	require.NoError(t, task.Execute(context.Background(), nil))

	row := raw.rows[0]
	assert.Equal(t, "Sunrise Bakery", row.Name)
	assert.Equal(t, "919876543210", row.PhoneNumber)
	assert.Equal(t, "Maharashtra", row.State)
	assert.Equal(t, "Bakerie", row.Category)
	assert.Equal(t, 4.5, row.ReviewsAverage)
	assert.Equal(t, int64(120), row.ReviewsCount)
	assert.Equal(t, "f1", row.DriveFileID)
	assert.Equal(t, "google_drive", row.SourceSystem)
	assert.Equal(t, "2.0.0", row.ETLVersion)
	assert.NotEmpty(t, row.RowHash)
	assert.Equal(t, task.ID(), row.TaskID)
}

func TestIngestTaskResumesFromCheckpoint(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	file := sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z")

	require.NoError(t, registry.RecordFileStatus(context.Background(), &models.FileProcessingRecord{
		FileID:           "f1",
		Fingerprint:      file.Fingerprint,
		Status:           models.FileStatusInProgress,
		LastProcessedRow: 3,
	}))

	require.NoError(t, NewIngestTask(file, deps).Execute(context.Background(), nil))

	// Rows one through three sit behind the checkpoint.
	assert.Equal(t, 2, raw.count())
	assert.Equal(t, "Lotus Books", raw.rows[0].Name)
}

func TestIngestTaskRestartsWhenFingerprintChanges(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	file := sourceFile("f1", "pune.csv", "2026-08-02T09:00:00Z")

	require.NoError(t, registry.RecordFileStatus(context.Background(), &models.FileProcessingRecord{
		FileID:           "f1",
		Fingerprint:      normalize.Fingerprint("f1", "2026-08-01T10:00:00Z"),
		Status:           models.FileStatusProcessed,
		LastProcessedRow: 5,
	}))

	require.NoError(t, NewIngestTask(file, deps).Execute(context.Background(), nil))

	assert.Equal(t, 5, raw.count())
}

func TestIngestTaskRerunInsertsNothingTwice(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	file := sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z")

	require.NoError(t, NewIngestTask(file, deps).Execute(context.Background(), nil))
	require.Equal(t, 5, raw.count())

	// Simulate a lost checkpoint so the rerun rereads every row. The row
	// hash constraint absorbs the redelivery.
	require.NoError(t, registry.RecordFileStatus(context.Background(), &models.FileProcessingRecord{
		FileID:      "f1",
		Fingerprint: "stale",
		Status:      models.FileStatusInProgress,
	}))
	require.NoError(t, NewIngestTask(file, deps).Execute(context.Background(), nil))

	assert.Equal(t, 5, raw.count())
}

func TestIngestTaskMissingNameColumnIsPermanent(t *testing.T) {
	driveClient, registry, _, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = "Address,Phone\n12 MG Road,9876543210\n"
	file := sourceFile("f1", "broken.csv", "2026-08-01T10:00:00Z")

	err := NewIngestTask(file, deps).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))

	rec, gerr := registry.GetFile(context.Background(), "f1")
	require.NoError(t, gerr)
	assert.Equal(t, models.FileStatusError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "no name column")
}

func TestIngestTaskOversizeFileIsPermanent(t *testing.T) {
	driveClient, registry, _, deps := newIngestFixture(t)
	driveClient.downloadErr["f1"] = apperrors.ErrFileTooLarge
	file := sourceFile("f1", "huge.csv", "2026-08-01T10:00:00Z")

	err := NewIngestTask(file, deps).Execute(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, retry.IsRetryable(err))

	rec, gerr := registry.GetFile(context.Background(), "f1")
	require.NoError(t, gerr)
	assert.Equal(t, models.FileStatusError, rec.Status)
}

func TestIngestTaskSkipsRowsWithoutIdentity(t *testing.T) {
	driveClient, _, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = "Name,Address,Phone\nSunrise Bakery,12 MG Road,9876543210\n,,\nN/A,null,-\n"
	file := sourceFile("f1", "sparse.csv", "2026-08-01T10:00:00Z")

	require.NoError(t, NewIngestTask(file, deps).Execute(context.Background(), nil))

	assert.Equal(t, 1, raw.count())
}

// chunkedBody serves fixed chunks one Read at a time, firing the matching
// hook before each chunk is returned.
type chunkedBody struct {
	chunks []string
	hooks  []func()
	idx    int
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.idx >= len(b.chunks) {
		return 0, io.EOF
	}
	if b.idx < len(b.hooks) && b.hooks[b.idx] != nil {
		b.hooks[b.idx]()
	}
	n := copy(p, b.chunks[b.idx])
	b.idx++
	return n, nil
}

func TestIngestTaskShutdownFlushPersistsBufferedRows(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	deps.Config.BatchSize = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The second chunk cancels the context mid-file, after two rows have
	// been buffered but before any batch flush.
	body := &chunkedBody{
		chunks: []string{
			"Business Name,Address,Contact Number,City,State,Category\n" +
				"Sunrise Bakery,12 MG Road,9876543210,Pune,Maharashtra,Bakery\n",
			"Lotus Books,2 Law College Road,9876543213,Pune,Maharashtra,Books\n",
		},
		hooks: []func(){nil, cancel},
	}
	driveClient.streams["f1"] = io.NopCloser(body)
	file := sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z")

	err := NewIngestTask(file, deps).Execute(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	// The buffered rows and the checkpoint survive the cancellation.
	assert.Equal(t, 2, raw.count())
	rec, gerr := registry.GetFile(context.Background(), "f1")
	require.NoError(t, gerr)
	assert.Equal(t, models.FileStatusInProgress, rec.Status)
	assert.Equal(t, int64(2), rec.LastProcessedRow)
}

func TestIngestTaskCancelledContextLeavesValidCheckpoint(t *testing.T) {
	driveClient, registry, raw, deps := newIngestFixture(t)
	driveClient.bodies["f1"] = listingsCSV
	file := sourceFile("f1", "pune.csv", "2026-08-01T10:00:00Z")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewIngestTask(file, deps).Execute(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, raw.count())

	statuses := registry.statuses("f1")
	require.NotEmpty(t, statuses)
	assert.Equal(t, models.FileStatusInProgress, statuses[len(statuses)-1])
}
