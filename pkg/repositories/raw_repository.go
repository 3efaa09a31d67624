package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// RawRepository is the append-only landing store for ingested rows.
type RawRepository interface {
	// InsertBatch writes rows inside one transaction with insert-if-absent
	// on row_hash. Returns the number of rows actually inserted; rows whose
	// hash already exists are silently skipped, which is what makes batch
	// redelivery after a crash safe.
	InsertBatch(ctx context.Context, rows []*models.RawListing) (int, error)

	// FetchAfter returns up to limit rows with id greater than watermark,
	// in id order.
	FetchAfter(ctx context.Context, watermark int64, limit int) ([]*models.RawListing, error)
}

type rawRepository struct {
	db *database.DB
}

// NewRawRepository creates a raw listings repository.
func NewRawRepository(db *database.DB) RawRepository {
	return &rawRepository{db: db}
}

const insertRawQuery = `
	INSERT INTO raw_listings (
		name, address, website, phone_number, reviews_count, reviews_average,
		category, subcategory, city, state, area,
		drive_file_id, drive_file_name, drive_path, drive_modified,
		source_system, etl_version, task_id, row_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (row_hash) DO NOTHING`

func (r *rawRepository) InsertBatch(ctx context.Context, rows []*models.RawListing) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin raw insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertRawQuery,
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
			row.DriveFileID,
			row.DriveFileName,
			row.DrivePath,
			row.DriveModified,
			row.SourceSystem,
			row.ETLVersion,
			row.TaskID,
			row.RowHash,
		)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("failed to insert raw batch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close raw batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit raw batch: %w", err)
	}
	return inserted, nil
}

func (r *rawRepository) FetchAfter(ctx context.Context, watermark int64, limit int) ([]*models.RawListing, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, address, website, phone_number, reviews_count,
		       reviews_average, category, subcategory, city, state, area,
		       drive_file_id, drive_file_name, drive_path, drive_modified,
		       source_system, etl_version, task_id, row_hash, created_at
		FROM raw_listings
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, watermark, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raw rows after %d: %w", watermark, err)
	}
	defer rows.Close()

	var listings []*models.RawListing
	for rows.Next() {
		var l models.RawListing
		var name, address, website, phone, category, subcategory, city, state, area *string
		var driveModified *time.Time

		if err := rows.Scan(
			&l.ID,
			&name,
			&address,
			&website,
			&phone,
			&l.ReviewsCount,
			&l.ReviewsAverage,
			&category,
			&subcategory,
			&city,
			&state,
			&area,
			&l.DriveFileID,
			&l.DriveFileName,
			&l.DrivePath,
			&driveModified,
			&l.SourceSystem,
			&l.ETLVersion,
			&l.TaskID,
			&l.RowHash,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan raw row: %w", err)
		}

		l.Name = deref(name)
		l.Address = deref(address)
		l.Website = deref(website)
		l.PhoneNumber = deref(phone)
		l.Category = deref(category)
		l.Subcategory = deref(subcategory)
		l.City = deref(city)
		l.State = deref(state)
		l.Area = deref(area)
		if driveModified != nil {
			l.DriveModified = *driveModified
		}

		listings = append(listings, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw rows: %w", err)
	}
	return listings, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
