package repositories

import (
	"context"
	"fmt"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// StatsRepository maintains the dashboard aggregates. Refreshes are
// recomputed from the master table, never incremented inline by the
// ingest path.
type StatsRepository interface {
	Refresh(ctx context.Context) error
	Get(ctx context.Context) (*models.PipelineStats, error)
}

type statsRepository struct {
	db *database.DB
}

// NewStatsRepository creates a stats repository.
func NewStatsRepository(db *database.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) Refresh(ctx context.Context) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin stats refresh: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE pipeline_stats
		SET total_records = (SELECT COUNT(*) FROM master_listings),
		    total_states = (SELECT COUNT(DISTINCT state) FROM master_listings WHERE state <> ''),
		    total_categories = (SELECT COUNT(DISTINCT category) FROM master_listings WHERE category <> ''),
		    total_files = (SELECT COUNT(*) FROM file_registry WHERE status = 'processed'),
		    last_updated = NOW()
		WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to refresh pipeline stats: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO state_category_stats (state, category, listing_count, refreshed_at)
		SELECT COALESCE(state, ''), COALESCE(category, ''), COUNT(*), NOW()
		FROM master_listings
		GROUP BY 1, 2
		ON CONFLICT (state, category) DO UPDATE
		SET listing_count = EXCLUDED.listing_count,
		    refreshed_at = NOW()`)
	if err != nil {
		return fmt.Errorf("failed to refresh state category stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stats refresh: %w", err)
	}
	return nil
}

func (r *statsRepository) Get(ctx context.Context) (*models.PipelineStats, error) {
	var stats models.PipelineStats
	err := r.db.Pool.QueryRow(ctx, `
		SELECT total_records, total_states, total_categories, total_files, last_updated
		FROM pipeline_stats
		WHERE id = 1`).Scan(
		&stats.TotalRecords,
		&stats.TotalStates,
		&stats.TotalCategories,
		&stats.TotalFiles,
		&stats.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline stats: %w", err)
	}
	return &stats, nil
}
