package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// MasterRepository holds the promoted golden records.
type MasterRepository interface {
	// PromoteBatch inserts valid rows with insert-if-absent on the composite
	// business identity. Returns the number of rows promoted; an identity
	// that already exists is skipped, which keeps racing batches safe.
	PromoteBatch(ctx context.Context, rows []*models.ValidatedListing) (int, error)

	// DropDedupIndexes removes the identity constraint before a bulk load.
	// Never called by the pipeline itself; promotion relies on the
	// constraint being present.
	DropDedupIndexes(ctx context.Context) error

	// RebuildDedupIndexes restores the identity constraint after a bulk
	// load. Fails if the loaded data contains identity duplicates.
	RebuildDedupIndexes(ctx context.Context) error
}

type masterRepository struct {
	db *database.DB
}

// NewMasterRepository creates a master listings repository.
func NewMasterRepository(db *database.DB) MasterRepository {
	return &masterRepository{db: db}
}

const promoteQuery = `
	INSERT INTO master_listings (
		raw_id, name, address, website, phone_number, reviews_count,
		reviews_average, category, subcategory, city, state, area
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT ON CONSTRAINT uq_master_identity DO NOTHING`

func (r *masterRepository) PromoteBatch(ctx context.Context, rows []*models.ValidatedListing) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(promoteQuery,
			row.RawID,
			row.Name,
			row.Address,
			row.Website,
			row.PhoneNumber,
			row.ReviewsCount,
			row.ReviewsAverage,
			row.Category,
			row.Subcategory,
			row.City,
			row.State,
			row.Area,
		)
	}

	results := tx.SendBatch(ctx, batch)
	promoted := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("failed to promote batch: %w", err)
		}
		promoted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close promotion batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit promotion: %w", err)
	}
	return promoted, nil
}

func (r *masterRepository) DropDedupIndexes(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
		ALTER TABLE master_listings DROP CONSTRAINT IF EXISTS uq_master_identity`)
	if err != nil {
		return fmt.Errorf("failed to drop dedup constraint: %w", err)
	}
	return nil
}

func (r *masterRepository) RebuildDedupIndexes(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
		ALTER TABLE master_listings
		ADD CONSTRAINT uq_master_identity UNIQUE (name, phone_number, city, address)`)
	if err != nil {
		return fmt.Errorf("failed to rebuild dedup constraint: %w", err)
	}
	return nil
}
