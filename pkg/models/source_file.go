package models

import "time"

// SourceFile is one discoverable CSV in the source tree, as reported by a
// listing call. The fingerprint is derived from the file id and the
// source-reported modification time and is recomputed on every observation.
type SourceFile struct {
	ID           string
	Name         string
	FolderID     string
	FolderName   string
	Path         string
	ModifiedTime time.Time
	Fingerprint  string
}

// FileStatus is the registry processing status of a source file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusInProgress FileStatus = "in_progress"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusError      FileStatus = "error"
)

// FileProcessingRecord is the registry's durable state per source file.
// Mutated exclusively by the ingestion worker.
type FileProcessingRecord struct {
	FileID           string
	Filename         string
	FolderPath       string
	Fingerprint      string
	Status           FileStatus
	LastProcessedRow int64
	ErrorMessage     string
	ProcessedAt      time.Time
}

// FolderScanRecord marks a folder as scanned. The scanner writes one after
// processing a folder's children regardless of outcome.
type FolderScanRecord struct {
	FolderID   string
	FolderName string
	ModifiedAt time.Time
	CSVCount   int
	Status     string
	ScannedAt  time.Time
}
