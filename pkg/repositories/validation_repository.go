package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// ValidationRepository is the clean store: one classification verdict per
// raw row.
type ValidationRepository interface {
	// InsertBatch writes verdicts with insert-if-absent on raw_id, inside
	// one transaction. A verdict that already exists is never overwritten;
	// classification is one-shot.
	InsertBatch(ctx context.Context, rows []*models.ValidatedListing) (int, error)

	// ExistingSignatures returns which of the given signatures already have
	// a valid row in the clean store, ignoring rows whose raw_id is in
	// excludeRawIDs. The caller passes the batch being classified so a
	// replayed batch does not collide with its own earlier verdicts.
	// Lookups run in chunks of chunkSize signatures per query.
	ExistingSignatures(ctx context.Context, sigs []models.ListingSignature, excludeRawIDs []int64, chunkSize int) (map[models.ListingSignature]struct{}, error)
}

type validationRepository struct {
	db *database.DB
}

// NewValidationRepository creates a clean store repository.
func NewValidationRepository(db *database.DB) ValidationRepository {
	return &validationRepository{db: db}
}

const insertValidationQuery = `
	INSERT INTO listing_validations (
		raw_id, name, address, website, phone_number, reviews_count,
		reviews_average, category, subcategory, city, state, area,
		validation_status, cleaning_status, missing_fields, invalid_fields,
		duplicate_reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (raw_id) DO NOTHING`

func (r *validationRepository) InsertBatch(ctx context.Context, rows []*models.ValidatedListing) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin validation insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		var dupReason *string
		if row.DuplicateReason != "" {
			dupReason = &row.DuplicateReason
		}
		cleaningStatus := row.CleaningStatus
		if cleaningStatus == "" {
			cleaningStatus = "cleaned"
		}
		missing := row.MissingFields
		if missing == nil {
			missing = []string{}
		}
		invalid := row.InvalidFields
		if invalid == nil {
			invalid = []string{}
		}

		batch.Queue(insertValidationQuery,
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
			string(row.Status),
			cleaningStatus,
			missing,
			invalid,
			dupReason,
		)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("failed to insert validation batch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close validation batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit validation batch: %w", err)
	}
	return inserted, nil
}

func (r *validationRepository) ExistingSignatures(ctx context.Context, sigs []models.ListingSignature, excludeRawIDs []int64, chunkSize int) (map[models.ListingSignature]struct{}, error) {
	if chunkSize <= 0 {
		chunkSize = 5000
	}
	if excludeRawIDs == nil {
		// A nil slice encodes as SQL NULL and ANY(NULL) filters everything.
		excludeRawIDs = []int64{}
	}

	existing := make(map[models.ListingSignature]struct{})
	for start := 0; start < len(sigs); start += chunkSize {
		end := start + chunkSize
		if end > len(sigs) {
			end = len(sigs)
		}
		if err := r.lookupChunk(ctx, sigs[start:end], excludeRawIDs, existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

func (r *validationRepository) lookupChunk(ctx context.Context, sigs []models.ListingSignature, excludeRawIDs []int64, existing map[models.ListingSignature]struct{}) error {
	placeholders := make([]string, 0, len(sigs))
	args := make([]any, 0, len(sigs)*4+1)
	for i, sig := range sigs {
		base := i * 4
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, sig.Phone, sig.Name, sig.City, sig.Address)
	}
	args = append(args, excludeRawIDs)

	query := fmt.Sprintf(`
		SELECT phone_number, lower(name), lower(city), lower(address)
		FROM listing_validations
		WHERE validation_status = 'valid'
		  AND NOT (raw_id = ANY($%d))
		  AND (phone_number, lower(name), lower(city), lower(address)) IN (%s)`,
		len(sigs)*4+1, strings.Join(placeholders, ", "))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to look up signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig models.ListingSignature
		if err := rows.Scan(&sig.Phone, &sig.Name, &sig.City, &sig.Address); err != nil {
			return fmt.Errorf("failed to scan signature: %w", err)
		}
		existing[sig] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate signatures: %w", err)
	}
	return nil
}
