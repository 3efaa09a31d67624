package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/config"
	"github.com/bizdata-inc/listing-engine/pkg/drive"
	"github.com/bizdata-inc/listing-engine/pkg/logging"
	"github.com/bizdata-inc/listing-engine/pkg/metrics"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/normalize"
	"github.com/bizdata-inc/listing-engine/pkg/repositories"
	"github.com/bizdata-inc/listing-engine/pkg/retry"
	"github.com/bizdata-inc/listing-engine/pkg/workqueue"
)

// rowHashSetKey is the Redis set of row hashes already landed in
// raw_listings. Purely a pre-filter; the database constraint is the source
// of truth.
const rowHashSetKey = "listing_engine:row_hashes"

// IngestDeps bundles the collaborators shared by every ingestion task.
type IngestDeps struct {
	Drive    drive.Client
	Registry repositories.RegistryRepository
	Raw      repositories.RawRepository
	Redis    *redis.Client // may be nil
	Stats    *StatsTracker // may be nil
	Metrics  *metrics.Metrics
	Config   config.IngestConfig
	Logger   *zap.Logger
}

// IngestTask downloads one CSV, normalizes its rows and lands them in
// raw_listings in checkpointed batches. A task interrupted at any point can
// be re-run: committed rows are skipped by the checkpoint, redelivered rows
// by the row hash constraint.
type IngestTask struct {
	workqueue.BaseTask
	file   models.SourceFile
	deps   *IngestDeps
	logger *zap.Logger
}

// NewIngestTask creates an ingestion task for one source file.
func NewIngestTask(file models.SourceFile, deps *IngestDeps) *IngestTask {
	base := workqueue.NewBaseTask(fmt.Sprintf("ingest %s", file.Name))
	return &IngestTask{
		BaseTask: base,
		file:     file,
		deps:     deps,
		logger: deps.Logger.Named("ingest").With(
			zap.String("file_id", file.ID),
			zap.String("file_name", file.Name),
			zap.String("task_id", base.ID()),
		),
	}
}

// File returns the source file this task ingests.
func (t *IngestTask) File() models.SourceFile {
	return t.file
}

func (t *IngestTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	start := time.Now()

	checkpoint, err := t.resumeCheckpoint(ctx)
	if err != nil {
		return err
	}

	if err := t.recordStatus(ctx, models.FileStatusInProgress, checkpoint, ""); err != nil {
		return err
	}

	body, err := t.deps.Drive.Download(ctx, t.file.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrFileTooLarge) {
			t.failPermanently(ctx, checkpoint, err)
			return &permanentError{err: err}
		}
		return fmt.Errorf("download failed: %w", err)
	}
	defer body.Close()

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		err = fmt.Errorf("unreadable header: %w", err)
		t.failPermanently(ctx, checkpoint, err)
		return &permanentError{err: err}
	}

	mapping := mapHeader(header)
	if !mapping.hasRequiredColumns() {
		err = fmt.Errorf("no name column among headers %v", header)
		t.failPermanently(ctx, checkpoint, err)
		return &permanentError{err: err}
	}

	if checkpoint > 0 {
		t.logger.Info("resuming from checkpoint", zap.Int64("row", checkpoint))
	}

	var (
		batch     []*models.RawListing
		rowIdx    int64
		malformed int
	)

	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		if err := t.commitBatch(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		checkpoint = rowIdx
		return t.recordStatus(ctx, models.FileStatusInProgress, checkpoint, "")
	}

	for {
		// Shutdown check sits at the row loop so a cancelled task flushes
		// what it has and leaves a valid checkpoint behind. The flush runs
		// detached from the cancelled context; the pool rejects writes on a
		// dead one and the buffered rows would be lost.
		if ctx.Err() != nil {
			if ferr := flush(context.WithoutCancel(ctx)); ferr != nil {
				return ferr
			}
			t.logger.Info("ingestion interrupted, checkpoint persisted",
				zap.Int64("row", checkpoint))
			return ctx.Err()
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			rowIdx++
			malformed++
			t.logger.Debug("skipping malformed row",
				zap.Int64("row", rowIdx), zap.Error(err))
			continue
		}
		if err != nil {
			if ferr := flush(ctx); ferr != nil {
				return ferr
			}
			return fmt.Errorf("read failed at row %d: %w", rowIdx, err)
		}

		rowIdx++
		t.deps.Metrics.RowsRead.Inc()

		if rowIdx <= checkpoint {
			continue
		}

		listing := t.buildListing(mapping, record)
		if listing == nil {
			continue
		}
		batch = append(batch, listing)

		if len(batch) >= t.deps.Config.BatchSize {
			if err := flush(ctx); err != nil {
				return err
			}
		}
	}

	if err := flush(ctx); err != nil {
		return err
	}

	if err := t.recordStatus(ctx, models.FileStatusProcessed, rowIdx, ""); err != nil {
		return err
	}

	t.deps.Metrics.FilesProcessed.Inc()
	t.deps.Metrics.IngestDuration.Observe(time.Since(start).Seconds())
	t.logger.Info("file ingested",
		zap.Int64("rows", rowIdx),
		zap.Int("malformed", malformed),
		zap.Duration("took", time.Since(start)))

	if t.deps.Stats != nil {
		t.deps.Stats.FileProcessed(ctx)
	}
	return nil
}

// resumeCheckpoint decides where ingestion starts. A changed fingerprint
// restarts the file from the top; an unchanged one resumes where the last
// run checkpointed.
func (t *IngestTask) resumeCheckpoint(ctx context.Context) (int64, error) {
	rec, err := t.deps.Registry.GetFile(ctx, t.file.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint lookup failed: %w", err)
	}
	if rec.Fingerprint != t.file.Fingerprint {
		return 0, nil
	}
	return rec.LastProcessedRow, nil
}

// buildListing normalizes one CSV record. Returns nil for rows that carry no
// identity at all; those would otherwise all collide on one row hash.
func (t *IngestTask) buildListing(mapping columnMapping, record []string) *models.RawListing {
	maxLen := t.deps.Config.MaxFieldLen

	name := t.clip(normalize.Text(mapping.get(record, fieldName)), maxLen, fieldName)
	phone := t.clip(normalize.Phone(mapping.get(record, fieldPhone)), maxLen, fieldPhone)
	address := t.clip(normalize.Text(mapping.get(record, fieldAddress)), maxLen, fieldAddress)
	city := t.clip(normalize.City(mapping.get(record, fieldCity)), maxLen, fieldCity)

	if name == "" && phone == "" && address == "" {
		return nil
	}

	return &models.RawListing{
		Name:           name,
		Address:        address,
		Website:        t.clip(normalize.Website(mapping.get(record, fieldWebsite)), maxLen, fieldWebsite),
		PhoneNumber:    phone,
		ReviewsCount:   t.coerceInt(mapping.get(record, fieldReviewsCount)),
		ReviewsAverage: t.coerceFloat(mapping.get(record, fieldReviewsAverage)),
		Category:       t.clip(normalize.Category(mapping.get(record, fieldCategory)), maxLen, fieldCategory),
		Subcategory:    t.clip(normalize.Category(mapping.get(record, fieldSubcategory)), maxLen, fieldSubcategory),
		City:           city,
		State:          t.clip(normalize.State(mapping.get(record, fieldState)), maxLen, fieldState),
		Area:           t.clip(normalize.Text(mapping.get(record, fieldArea)), maxLen, fieldArea),
		DriveFileID:    t.file.ID,
		DriveFileName:  t.file.Name,
		DrivePath:      t.file.Path,
		DriveModified:  t.file.ModifiedTime,
		SourceSystem:   t.deps.Config.SourceSystem,
		ETLVersion:     t.deps.Config.ETLVersion,
		TaskID:         t.ID(),
		RowHash:        normalize.RowHash(name, phone, address, city),
	}
}

// commitBatch lands one batch, retrying transient database errors before
// giving up.
func (t *IngestTask) commitBatch(ctx context.Context, batch []*models.RawListing) error {
	toInsert := t.prefilter(ctx, batch)
	if len(toInsert) == 0 {
		t.deps.Metrics.RowsSkipped.Add(float64(len(batch)))
		return nil
	}

	var inserted int
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var err error
		inserted, err = t.deps.Raw.InsertBatch(ctx, toInsert)
		return err
	})
	if err != nil {
		return fmt.Errorf("batch insert failed: %w", err)
	}

	t.deps.Metrics.RowsInserted.Add(float64(inserted))
	t.deps.Metrics.RowsSkipped.Add(float64(len(batch) - inserted))
	t.rememberHashes(ctx, toInsert)
	return nil
}

// prefilter drops rows whose hash is already in the Redis set. Best effort:
// any Redis problem means the whole batch goes to the database, whose
// constraint remains the real gate.
func (t *IngestTask) prefilter(ctx context.Context, batch []*models.RawListing) []*models.RawListing {
	if t.deps.Redis == nil {
		return batch
	}

	hashes := make([]any, len(batch))
	for i, row := range batch {
		hashes[i] = row.RowHash
	}

	known, err := t.deps.Redis.SMIsMember(ctx, rowHashSetKey, hashes...).Result()
	if err != nil || len(known) != len(batch) {
		if err != nil {
			t.logger.Debug("redis prefilter unavailable", zap.Error(err))
		}
		return batch
	}

	toInsert := batch[:0:0]
	for i, row := range batch {
		if !known[i] {
			toInsert = append(toInsert, row)
		}
	}
	return toInsert
}

func (t *IngestTask) rememberHashes(ctx context.Context, rows []*models.RawListing) {
	if t.deps.Redis == nil {
		return
	}
	hashes := make([]any, len(rows))
	for i, row := range rows {
		hashes[i] = row.RowHash
	}
	if err := t.deps.Redis.SAdd(ctx, rowHashSetKey, hashes...).Err(); err != nil {
		t.logger.Debug("redis hash set update failed", zap.Error(err))
	}
}

func (t *IngestTask) clip(val string, maxLen int, field string) string {
	if maxLen <= 0 || len(val) <= maxLen {
		return val
	}
	t.logger.Debug("truncating oversized field",
		zap.String("field", field), zap.Int("length", len(val)))
	return logging.TruncateString(val, maxLen)
}

func (t *IngestTask) coerceInt(val string) int64 {
	val = strings.ReplaceAll(strings.TrimSpace(val), ",", "")
	if val == "" || normalize.IsPlaceholder(val) {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// "1.2k" style counts appear occasionally; fall back to the float
		// form before giving up.
		if f, ferr := strconv.ParseFloat(val, 64); ferr == nil {
			return int64(f)
		}
		t.logger.Debug("coercing unparseable count to zero", zap.String("value", val))
		return 0
	}
	return n
}

func (t *IngestTask) coerceFloat(val string) float64 {
	val = strings.TrimSpace(val)
	if val == "" || normalize.IsPlaceholder(val) {
		return 0
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		t.logger.Debug("coercing unparseable rating to zero", zap.String("value", val))
		return 0
	}
	return f
}

func (t *IngestTask) recordStatus(ctx context.Context, status models.FileStatus, checkpoint int64, errMsg string) error {
	err := t.deps.Registry.RecordFileStatus(ctx, &models.FileProcessingRecord{
		FileID:           t.file.ID,
		Filename:         t.file.Name,
		FolderPath:       t.file.Path,
		Fingerprint:      t.file.Fingerprint,
		Status:           status,
		LastProcessedRow: checkpoint,
		ErrorMessage:     errMsg,
	})
	if err != nil {
		return fmt.Errorf("registry update failed: %w", err)
	}
	return nil
}

// failPermanently marks the registry record before the task reports a
// non-retryable error. Registry write failures here are logged and dropped;
// the task error is the one worth surfacing.
func (t *IngestTask) failPermanently(ctx context.Context, checkpoint int64, cause error) {
	t.deps.Metrics.FilesFailed.Inc()
	msg := logging.ErrorForStorage(cause)
	if err := t.recordStatus(ctx, models.FileStatusError, checkpoint, msg); err != nil {
		t.logger.Warn("failed to record error status", zap.Error(err))
	}
}

// permanentError wraps an error so the queue fails the task without retries.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) Unwrap() error     { return e.err }
func (e *permanentError) IsRetryable() bool { return false }
