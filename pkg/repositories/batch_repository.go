package repositories

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// BatchRepository records one audit row per validation cycle. The watermark
// advances in the same transaction, so a summary row and its watermark can
// never disagree after a crash.
type BatchRepository interface {
	RecordBatch(ctx context.Context, summary *models.ProcessingBatchSummary) error
}

type batchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a batch audit repository.
func NewBatchRepository(db *database.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) RecordBatch(ctx context.Context, summary *models.ProcessingBatchSummary) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch record: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO processing_batches (
			started_at, finished_at, total_rows, missing_rows, invalid_rows,
			duplicate_rows, valid_rows, watermark_reached
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		summary.StartedAt,
		summary.FinishedAt,
		summary.TotalRows,
		summary.MissingRows,
		summary.InvalidRows,
		summary.DuplicateRows,
		summary.ValidRows,
		summary.WatermarkReached,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch summary: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO etl_metadata (meta_key, meta_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (meta_key) DO UPDATE
		SET meta_value = EXCLUDED.meta_value,
		    updated_at = NOW()`,
		MetaWatermark,
		strconv.FormatInt(summary.WatermarkReached, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch record: %w", err)
	}
	return nil
}
