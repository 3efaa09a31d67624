package repositories

import (
	"context"
	"fmt"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/logging"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// DLQRepository preserves permanently failed tasks for manual triage.
// Entries are additive; nothing in the pipeline replays them.
type DLQRepository interface {
	Record(ctx context.Context, entry *models.DLQEntry) error
	ListRecent(ctx context.Context, limit int) ([]*models.DLQEntry, error)
}

type dlqRepository struct {
	db *database.DB
}

// NewDLQRepository creates a dead letter queue repository.
func NewDLQRepository(db *database.DB) DLQRepository {
	return &dlqRepository{db: db}
}

func (r *dlqRepository) Record(ctx context.Context, entry *models.DLQEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO etl_dlq (file_id, file_name, error, task_id, retry_count)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.FileID,
		entry.FileName,
		logging.TruncateString(entry.Error, logging.MaxErrorLength),
		entry.TaskID,
		entry.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record dlq entry for %s: %w", entry.FileID, err)
	}
	return nil
}

func (r *dlqRepository) ListRecent(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, file_id, file_name, error, task_id, retry_count, failed_at
		FROM etl_dlq
		ORDER BY failed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.DLQEntry
	for rows.Next() {
		var e models.DLQEntry
		if err := rows.Scan(&e.ID, &e.FileID, &e.FileName, &e.Error, &e.TaskID, &e.RetryCount, &e.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dlq entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dlq entries: %w", err)
	}
	return entries, nil
}
