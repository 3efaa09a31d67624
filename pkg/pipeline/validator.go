package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/config"
	"github.com/bizdata-inc/listing-engine/pkg/metrics"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/repositories"
)

// mandatoryFields must all be present for a row to be promotable.
var mandatoryFields = []struct {
	name  string
	value func(*models.RawListing) string
}{
	{"name", func(r *models.RawListing) string { return r.Name }},
	{"address", func(r *models.RawListing) string { return r.Address }},
	{"phone_number", func(r *models.RawListing) string { return r.PhoneNumber }},
	{"city", func(r *models.RawListing) string { return r.City }},
	{"state", func(r *models.RawListing) string { return r.State }},
	{"category", func(r *models.RawListing) string { return r.Category }},
}

// Validator classifies raw rows and promotes the valid ones to the master
// table. It polls raw_listings past a persisted watermark; every row gets
// exactly one terminal verdict, written at most once.
type Validator struct {
	raw         repositories.RawRepository
	validations repositories.ValidationRepository
	master      repositories.MasterRepository
	batches     repositories.BatchRepository
	metadata    repositories.MetadataRepository
	cfg         config.ValidateConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewValidator creates a validation engine.
func NewValidator(
	raw repositories.RawRepository,
	validations repositories.ValidationRepository,
	master repositories.MasterRepository,
	batches repositories.BatchRepository,
	metadata repositories.MetadataRepository,
	cfg config.ValidateConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Validator {
	return &Validator{
		raw:         raw,
		validations: validations,
		master:      master,
		batches:     batches,
		metadata:    metadata,
		cfg:         cfg,
		metrics:     m,
		logger:      logger.Named("validator"),
	}
}

// Run polls for new raw rows until the context is cancelled. A full batch is
// followed immediately by another cycle; an empty fetch sleeps the poll
// interval.
func (v *Validator) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("validator stopping")
			return
		case <-timer.C:
		}

		processed, err := v.Cycle(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			// Watermark untouched; the failed batch is refetched next cycle.
			v.logger.Error("validation cycle failed", zap.Error(err))
			timer.Reset(v.cfg.PollInterval)
		case processed == 0:
			timer.Reset(v.cfg.PollInterval)
		default:
			timer.Reset(0)
		}
	}
}

// Cycle processes one batch. Returns the number of rows classified.
func (v *Validator) Cycle(ctx context.Context) (int, error) {
	start := time.Now()

	watermark, err := v.currentWatermark(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := v.raw.FetchAfter(ctx, watermark, v.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	verdicts, err := v.classify(ctx, rows)
	if err != nil {
		return 0, err
	}

	if _, err := v.validations.InsertBatch(ctx, verdicts); err != nil {
		return 0, err
	}

	var valids []*models.ValidatedListing
	summary := &models.ProcessingBatchSummary{
		StartedAt: start,
		TotalRows: len(verdicts),
	}
	for _, verdict := range verdicts {
		v.metrics.RowsClassified.WithLabelValues(string(verdict.Status)).Inc()
		switch verdict.Status {
		case models.ValidationValid:
			summary.ValidRows++
			valids = append(valids, verdict)
		case models.ValidationMissing:
			summary.MissingRows++
		case models.ValidationInvalid:
			summary.InvalidRows++
		case models.ValidationDuplicate:
			summary.DuplicateRows++
		}
	}

	promoted, err := v.master.PromoteBatch(ctx, valids)
	if err != nil {
		return 0, err
	}
	v.metrics.RowsPromoted.Add(float64(promoted))

	// Rows arrive ordered by id; the last one is the new watermark.
	summary.WatermarkReached = rows[len(rows)-1].ID
	summary.FinishedAt = time.Now()
	if err := v.batches.RecordBatch(ctx, summary); err != nil {
		return 0, err
	}

	v.metrics.WatermarkReached.Set(float64(summary.WatermarkReached))
	v.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	v.logger.Info("batch classified",
		zap.Int("total", summary.TotalRows),
		zap.Int("valid", summary.ValidRows),
		zap.Int("missing", summary.MissingRows),
		zap.Int("invalid", summary.InvalidRows),
		zap.Int("duplicate", summary.DuplicateRows),
		zap.Int("promoted", promoted),
		zap.Int64("watermark", summary.WatermarkReached),
		zap.Duration("took", time.Since(start)))

	return len(verdicts), nil
}

func (v *Validator) currentWatermark(ctx context.Context) (int64, error) {
	value, err := v.metadata.Get(ctx, repositories.MetaWatermark)
	if errors.Is(err, apperrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	watermark, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %q: %w", value, err)
	}
	return watermark, nil
}

// classify assigns every row exactly one verdict. Rows passing the field
// checks go through duplicate detection: first against the clean store, then
// first-wins within the batch.
func (v *Validator) classify(ctx context.Context, rows []*models.RawListing) ([]*models.ValidatedListing, error) {
	verdicts := make([]*models.ValidatedListing, len(rows))
	var candidates []int

	for i, row := range rows {
		verdict := newVerdict(row)

		if missing := missingFields(row); len(missing) > 0 {
			verdict.Status = models.ValidationMissing
			verdict.MissingFields = missing
		} else if invalid := invalidFields(row); len(invalid) > 0 {
			verdict.Status = models.ValidationInvalid
			verdict.InvalidFields = invalid
		} else {
			candidates = append(candidates, i)
		}

		verdicts[i] = verdict
	}

	sigs := make([]models.ListingSignature, 0, len(candidates))
	for _, i := range candidates {
		sigs = append(sigs, verdicts[i].Signature())
	}

	// The lookup excludes this batch's own raw ids: a cycle replayed after a
	// crashed promotion must not see the verdicts it wrote last time as
	// pre-existing duplicates, or the promotion would be lost for good.
	batchIDs := make([]int64, len(rows))
	for i, row := range rows {
		batchIDs[i] = row.ID
	}

	existing, err := v.validations.ExistingSignatures(ctx, sigs, batchIDs, v.cfg.SignatureChunk)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.ListingSignature]int64, len(candidates))
	for _, i := range candidates {
		verdict := verdicts[i]
		sig := verdict.Signature()

		if _, dup := existing[sig]; dup {
			verdict.Status = models.ValidationDuplicate
			verdict.DuplicateReason = "matches existing listing"
			continue
		}
		if firstID, dup := seen[sig]; dup {
			verdict.Status = models.ValidationDuplicate
			verdict.DuplicateReason = fmt.Sprintf("duplicate of raw row %d in batch", firstID)
			continue
		}

		seen[sig] = verdict.RawID
		verdict.Status = models.ValidationValid
	}

	return verdicts, nil
}

func newVerdict(row *models.RawListing) *models.ValidatedListing {
	return &models.ValidatedListing{
		RawID:          row.ID,
		Name:           row.Name,
		Address:        row.Address,
		Website:        row.Website,
		PhoneNumber:    row.PhoneNumber,
		ReviewsCount:   row.ReviewsCount,
		ReviewsAverage: row.ReviewsAverage,
		Category:       row.Category,
		Subcategory:    row.Subcategory,
		City:           row.City,
		State:          row.State,
		Area:           row.Area,
		CleaningStatus: "cleaned",
	}
}

func missingFields(row *models.RawListing) []string {
	var missing []string
	for _, field := range mandatoryFields {
		if strings.TrimSpace(field.value(row)) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func invalidFields(row *models.RawListing) []string {
	var invalid []string

	digits := len(row.PhoneNumber)
	if digits < 8 || digits > 18 {
		invalid = append(invalid, "phone_number")
	}
	if row.Website != "" && !strings.Contains(row.Website, ".") {
		invalid = append(invalid, "website")
	}
	if row.ReviewsAverage < 0 || row.ReviewsAverage > 5 {
		invalid = append(invalid, "reviews_average")
	}

	return invalid
}
