package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/database"
)

// Metadata keys shared between pipeline stages.
const (
	// MetaChangeCursor is the changes-feed page token the scanner resumes
	// from.
	MetaChangeCursor = "drive_change_cursor"
	// MetaLastKnownGood is the timestamp of the last change batch applied
	// before a cursor expired. Bounds the visibility gap after re-acquiring
	// a fresh cursor.
	MetaLastKnownGood = "drive_change_last_known_good"
	// MetaWatermark is the highest raw_listings id the validation engine
	// has classified.
	MetaWatermark = "validation_watermark"
)

// MetadataRepository stores small cross-stage coordination values.
type MetadataRepository interface {
	// Get returns the value for a key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set upserts the value for a key.
	Set(ctx context.Context, key, value string) error
}

type metadataRepository struct {
	db *database.DB
}

// NewMetadataRepository creates a metadata repository.
func NewMetadataRepository(db *database.DB) MetadataRepository {
	return &metadataRepository{db: db}
}

func (r *metadataRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT meta_value FROM etl_metadata WHERE meta_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

func (r *metadataRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO etl_metadata (meta_key, meta_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (meta_key) DO UPDATE
		SET meta_value = EXCLUDED.meta_value,
		    updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}
