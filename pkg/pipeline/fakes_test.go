package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/drive"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/repositories"
	"github.com/bizdata-inc/listing-engine/pkg/workqueue"
)

// fakeDrive serves a canned folder tree, file bodies and change pages.
type fakeDrive struct {
	mu         sync.Mutex
	children   map[string][]drive.Item
	bodies     map[string]string
	streams    map[string]io.ReadCloser
	changes    map[string]*drive.ChangeList
	startToken string

	listErr     error
	downloadErr map[string]error
	listCalls   map[string]int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		children:    make(map[string][]drive.Item),
		bodies:      make(map[string]string),
		streams:     make(map[string]io.ReadCloser),
		changes:     make(map[string]*drive.ChangeList),
		downloadErr: make(map[string]error),
		listCalls:   make(map[string]int),
		startToken:  "cursor-1",
	}
}

func (d *fakeDrive) ListChildren(_ context.Context, folderID string) ([]drive.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls[folderID]++
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.children[folderID], nil
}

func (d *fakeDrive) GetFile(_ context.Context, fileID string) (*drive.Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, items := range d.children {
		for _, item := range items {
			if item.ID == fileID {
				found := item
				return &found, nil
			}
		}
	}
	return nil, apperrors.ErrNotFound
}

func (d *fakeDrive) StartPageToken(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startToken, nil
}

func (d *fakeDrive) Changes(_ context.Context, pageToken string) (*drive.ChangeList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list, ok := d.changes[pageToken]
	if !ok {
		return nil, apperrors.ErrCursorExpired
	}
	return list, nil
}

func (d *fakeDrive) Download(_ context.Context, fileID string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.downloadErr[fileID]; err != nil {
		return nil, err
	}
	if rc, ok := d.streams[fileID]; ok {
		delete(d.streams, fileID)
		return rc, nil
	}
	body, ok := d.bodies[fileID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (d *fakeDrive) callsFor(folderID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listCalls[folderID]
}

// fakeRegistry mirrors the registry semantics in memory.
type fakeRegistry struct {
	mu        sync.Mutex
	files     map[string]*models.FileProcessingRecord
	folders   map[string]*models.FolderScanRecord
	statusLog []models.FileProcessingRecord
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		files:   make(map[string]*models.FileProcessingRecord),
		folders: make(map[string]*models.FolderScanRecord),
	}
}

func (r *fakeRegistry) ShouldProcess(_ context.Context, fileID, fingerprint string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[fileID]
	if !ok {
		return true, nil
	}
	if rec.Fingerprint != fingerprint {
		return true, nil
	}
	return rec.Status != models.FileStatusProcessed, nil
}

func (r *fakeRegistry) GetFile(_ context.Context, fileID string) (*models.FileProcessingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[fileID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *fakeRegistry) RecordFileStatus(_ context.Context, rec *models.FileProcessingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rec
	copied.ProcessedAt = time.Now()
	r.files[rec.FileID] = &copied
	r.statusLog = append(r.statusLog, copied)
	return nil
}

func (r *fakeRegistry) ShouldScanFolder(_ context.Context, folderID string, modifiedAt time.Time, tolerance time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.folders[folderID]
	if !ok {
		return true, nil
	}
	if rec.Status == "error" {
		return true, nil
	}
	if tolerance <= 0 {
		return false, nil
	}
	return modifiedAt.Sub(rec.ModifiedAt) > tolerance, nil
}

func (r *fakeRegistry) RecordFolderScanned(_ context.Context, rec *models.FolderScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *rec
	copied.ScannedAt = time.Now()
	r.folders[rec.FolderID] = &copied
	return nil
}

func (r *fakeRegistry) Summary(_ context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var processed int64
	for _, rec := range r.files {
		if rec.Status == models.FileStatusProcessed {
			processed++
		}
	}
	return processed, int64(len(r.folders)), nil
}

func (r *fakeRegistry) folderRecord(folderID string) *models.FolderScanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.folders[folderID]
	if !ok {
		return nil
	}
	copied := *rec
	return &copied
}

func (r *fakeRegistry) statuses(fileID string) []models.FileStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FileStatus
	for _, rec := range r.statusLog {
		if rec.FileID == fileID {
			out = append(out, rec.Status)
		}
	}
	return out
}

// fakeMetadata is an in-memory key-value store.
type fakeMetadata struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{values: make(map[string]string)}
}

func (m *fakeMetadata) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return value, nil
}

func (m *fakeMetadata) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// fakeRawRepo enforces the row hash constraint in memory and assigns ids.
type fakeRawRepo struct {
	mu     sync.Mutex
	rows   []*models.RawListing
	hashes map[string]struct{}
	nextID int64

	insertErr  error
	failsLeft  int
	insertions int
}

func newFakeRawRepo() *fakeRawRepo {
	return &fakeRawRepo{hashes: make(map[string]struct{}), nextID: 1}
}

func (r *fakeRawRepo) InsertBatch(ctx context.Context, rows []*models.RawListing) (int, error) {
	// Real drivers refuse work on a cancelled context.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failsLeft > 0 {
		r.failsLeft--
		return 0, r.insertErr
	}
	r.insertions++
	inserted := 0
	for _, row := range rows {
		if _, dup := r.hashes[row.RowHash]; dup {
			continue
		}
		r.hashes[row.RowHash] = struct{}{}
		copied := *row
		copied.ID = r.nextID
		r.nextID++
		r.rows = append(r.rows, &copied)
		inserted++
	}
	return inserted, nil
}

func (r *fakeRawRepo) FetchAfter(_ context.Context, watermark int64, limit int) ([]*models.RawListing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RawListing
	for _, row := range r.rows {
		if row.ID > watermark {
			copied := *row
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRawRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// fakeValidationRepo enforces one verdict per raw id.
type fakeValidationRepo struct {
	mu       sync.Mutex
	verdicts map[int64]*models.ValidatedListing
}

func newFakeValidationRepo() *fakeValidationRepo {
	return &fakeValidationRepo{verdicts: make(map[int64]*models.ValidatedListing)}
}

func (r *fakeValidationRepo) InsertBatch(_ context.Context, rows []*models.ValidatedListing) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		if _, dup := r.verdicts[row.RawID]; dup {
			continue
		}
		copied := *row
		r.verdicts[row.RawID] = &copied
		inserted++
	}
	return inserted, nil
}

func (r *fakeValidationRepo) ExistingSignatures(_ context.Context, sigs []models.ListingSignature, excludeRawIDs []int64, _ int) (map[models.ListingSignature]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	excluded := make(map[int64]struct{}, len(excludeRawIDs))
	for _, id := range excludeRawIDs {
		excluded[id] = struct{}{}
	}
	valid := make(map[models.ListingSignature]struct{})
	for _, verdict := range r.verdicts {
		if _, skip := excluded[verdict.RawID]; skip {
			continue
		}
		if verdict.Status == models.ValidationValid {
			valid[verdict.Signature()] = struct{}{}
		}
	}
	out := make(map[models.ListingSignature]struct{})
	for _, sig := range sigs {
		if _, ok := valid[sig]; ok {
			out[sig] = struct{}{}
		}
	}
	return out, nil
}

func (r *fakeValidationRepo) statusOf(rawID int64) models.ValidationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	verdict, ok := r.verdicts[rawID]
	if !ok {
		return ""
	}
	return verdict.Status
}

// fakeMasterRepo deduplicates on the composite identity like the real table.
type fakeMasterRepo struct {
	mu         sync.Mutex
	identities map[models.ListingSignature]struct{}
	promoted   []*models.ValidatedListing

	promoteErr error
	failsLeft  int
}

func newFakeMasterRepo() *fakeMasterRepo {
	return &fakeMasterRepo{identities: make(map[models.ListingSignature]struct{})}
}

func (r *fakeMasterRepo) PromoteBatch(_ context.Context, rows []*models.ValidatedListing) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failsLeft > 0 {
		r.failsLeft--
		return 0, r.promoteErr
	}
	promoted := 0
	for _, row := range rows {
		sig := row.Signature()
		if _, dup := r.identities[sig]; dup {
			continue
		}
		r.identities[sig] = struct{}{}
		r.promoted = append(r.promoted, row)
		promoted++
	}
	return promoted, nil
}

func (r *fakeMasterRepo) DropDedupIndexes(context.Context) error    { return nil }
func (r *fakeMasterRepo) RebuildDedupIndexes(context.Context) error { return nil }

// fakeBatchRepo records summaries and advances the watermark like the real
// repository does, in the same call.
type fakeBatchRepo struct {
	mu        sync.Mutex
	metadata  *fakeMetadata
	summaries []*models.ProcessingBatchSummary
	recordErr error
}

func newFakeBatchRepo(metadata *fakeMetadata) *fakeBatchRepo {
	return &fakeBatchRepo{metadata: metadata}
}

func (r *fakeBatchRepo) RecordBatch(ctx context.Context, summary *models.ProcessingBatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	copied := *summary
	r.summaries = append(r.summaries, &copied)
	return r.metadata.Set(ctx, repositories.MetaWatermark, fmt.Sprintf("%d", summary.WatermarkReached))
}

// captureQueue records enqueued tasks without running them.
type captureQueue struct {
	mu    sync.Mutex
	tasks []workqueue.Task
}

func (q *captureQueue) Enqueue(task workqueue.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *captureQueue) enqueued() []workqueue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]workqueue.Task(nil), q.tasks...)
}
