package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/database"
	"github.com/bizdata-inc/listing-engine/pkg/models"
)

// RegistryRepository tracks which files and folders have been seen, so scans
// skip unchanged work.
type RegistryRepository interface {
	// ShouldProcess reports whether a file needs ingestion: true when the
	// file is unknown, its fingerprint changed, or its last run did not
	// reach processed.
	ShouldProcess(ctx context.Context, fileID, fingerprint string) (bool, error)

	// GetFile returns the registry record for a file, or
	// apperrors.ErrNotFound.
	GetFile(ctx context.Context, fileID string) (*models.FileProcessingRecord, error)

	// RecordFileStatus upserts the registry record. The ingestion worker
	// calls this on start, after every committed batch (checkpoint) and at
	// terminal status.
	RecordFileStatus(ctx context.Context, rec *models.FileProcessingRecord) error

	// ShouldScanFolder reports whether a folder needs re-listing: true when
	// the folder is unknown, its last scan ended in error, or its reported
	// modification time moved forward by more than tolerance. tolerance <= 0
	// skips every known folder that scanned cleanly.
	ShouldScanFolder(ctx context.Context, folderID string, modifiedAt time.Time, tolerance time.Duration) (bool, error)

	// RecordFolderScanned upserts the folder scan record.
	RecordFolderScanned(ctx context.Context, rec *models.FolderScanRecord) error

	// Summary returns how many files are fully processed and how many
	// folders have been scanned. Logged once at startup.
	Summary(ctx context.Context) (processedFiles, scannedFolders int64, err error)
}

type registryRepository struct {
	db *database.DB
}

// NewRegistryRepository creates a registry repository.
func NewRegistryRepository(db *database.DB) RegistryRepository {
	return &registryRepository{db: db}
}

func (r *registryRepository) ShouldProcess(ctx context.Context, fileID, fingerprint string) (bool, error) {
	var storedFingerprint string
	var status models.FileStatus

	err := r.db.Pool.QueryRow(ctx, `
		SELECT fingerprint, status
		FROM file_registry
		WHERE drive_file_id = $1`, fileID).Scan(&storedFingerprint, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up file %s: %w", fileID, err)
	}

	return storedFingerprint != fingerprint || status != models.FileStatusProcessed, nil
}

func (r *registryRepository) GetFile(ctx context.Context, fileID string) (*models.FileProcessingRecord, error) {
	var rec models.FileProcessingRecord
	var errMsg *string

	err := r.db.Pool.QueryRow(ctx, `
		SELECT drive_file_id, filename, folder_path, fingerprint, status,
		       last_processed_row, error_message, processed_at
		FROM file_registry
		WHERE drive_file_id = $1`, fileID).Scan(
		&rec.FileID,
		&rec.Filename,
		&rec.FolderPath,
		&rec.Fingerprint,
		&rec.Status,
		&rec.LastProcessedRow,
		&errMsg,
		&rec.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", fileID, err)
	}

	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return &rec, nil
}

func (r *registryRepository) RecordFileStatus(ctx context.Context, rec *models.FileProcessingRecord) error {
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO file_registry (
			drive_file_id, filename, folder_path, fingerprint, status,
			last_processed_row, error_message, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (drive_file_id) DO UPDATE
		SET filename = EXCLUDED.filename,
		    folder_path = EXCLUDED.folder_path,
		    fingerprint = EXCLUDED.fingerprint,
		    status = EXCLUDED.status,
		    last_processed_row = EXCLUDED.last_processed_row,
		    error_message = EXCLUDED.error_message,
		    processed_at = NOW()`,
		rec.FileID,
		rec.Filename,
		rec.FolderPath,
		rec.Fingerprint,
		rec.Status,
		rec.LastProcessedRow,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record file status for %s: %w", rec.FileID, err)
	}
	return nil
}

func (r *registryRepository) ShouldScanFolder(ctx context.Context, folderID string, modifiedAt time.Time, tolerance time.Duration) (bool, error) {
	var storedModified *time.Time
	var status string

	err := r.db.Pool.QueryRow(ctx, `
		SELECT drive_modified_at, status
		FROM folder_registry
		WHERE folder_id = $1`, folderID).Scan(&storedModified, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up folder %s: %w", folderID, err)
	}

	if status == "error" {
		return true, nil
	}
	if tolerance <= 0 {
		return false, nil
	}
	if storedModified == nil {
		return true, nil
	}
	return modifiedAt.Sub(*storedModified) > tolerance, nil
}

func (r *registryRepository) RecordFolderScanned(ctx context.Context, rec *models.FolderScanRecord) error {
	var modifiedAt *time.Time
	if !rec.ModifiedAt.IsZero() {
		modifiedAt = &rec.ModifiedAt
	}

	status := rec.Status
	if status == "" {
		status = "scanned"
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO folder_registry (
			folder_id, folder_name, drive_modified_at, csv_count, status, scanned_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (folder_id) DO UPDATE
		SET folder_name = EXCLUDED.folder_name,
		    drive_modified_at = EXCLUDED.drive_modified_at,
		    csv_count = EXCLUDED.csv_count,
		    status = EXCLUDED.status,
		    scanned_at = NOW()`,
		rec.FolderID,
		rec.FolderName,
		modifiedAt,
		rec.CSVCount,
		status,
	)
	if err != nil {
		return fmt.Errorf("failed to record folder scan for %s: %w", rec.FolderID, err)
	}
	return nil
}

func (r *registryRepository) Summary(ctx context.Context) (int64, int64, error) {
	var processedFiles, scannedFolders int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM file_registry WHERE status = 'processed'),
			(SELECT COUNT(*) FROM folder_registry)`).Scan(&processedFiles, &scannedFolders)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to summarize registry: %w", err)
	}
	return processedFiles, scannedFolders, nil
}
