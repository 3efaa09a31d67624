package models

import "time"

// RawListing is one ingested business listing, pre-validation. Rows are
// append-only; a duplicate insert (same RowHash) is suppressed, never updated.
// The auto-incrementing ID doubles as the validation watermark.
type RawListing struct {
	ID             int64
	Name           string
	Address        string
	Website        string
	PhoneNumber    string
	ReviewsCount   int64
	ReviewsAverage float64
	Category       string
	Subcategory    string
	City           string
	State          string
	Area           string

	// Provenance
	DriveFileID   string
	DriveFileName string
	DrivePath     string
	DriveModified time.Time
	SourceSystem  string
	ETLVersion    string
	TaskID        string
	RowHash       string
	CreatedAt     time.Time
}

// ValidationStatus is the terminal one-shot classification of a raw listing.
type ValidationStatus string

const (
	ValidationValid     ValidationStatus = "valid"
	ValidationMissing   ValidationStatus = "missing"
	ValidationInvalid   ValidationStatus = "invalid"
	ValidationDuplicate ValidationStatus = "duplicate"
)

// ValidatedListing is a raw listing after classification, written to the
// clean store exactly once per raw row (idempotent by RawID).
type ValidatedListing struct {
	RawID           int64
	Name            string
	Address         string
	Website         string
	PhoneNumber     string
	ReviewsCount    int64
	ReviewsAverage  float64
	Category        string
	Subcategory     string
	City            string
	State           string
	Area            string
	Status          ValidationStatus
	CleaningStatus  string
	MissingFields   []string
	InvalidFields   []string
	DuplicateReason string
	ProcessedAt     time.Time
}

// MasterListing is a promoted golden record. Only valid-classified rows reach
// this table, deduplicated by the composite business identity
// (name, phone, city, address).
type MasterListing struct {
	ID             int64
	RawID          int64
	Name           string
	Address        string
	Website        string
	PhoneNumber    string
	ReviewsCount   int64
	ReviewsAverage float64
	Category       string
	Subcategory    string
	City           string
	State          string
	Area           string
	CreatedAt      time.Time
}

// Signature returns the composite business identity used for duplicate
// detection, in the same form the clean store indexes it.
func (v *ValidatedListing) Signature() ListingSignature {
	return NewListingSignature(v.Name, v.PhoneNumber, v.City, v.Address)
}

// ProcessingBatchSummary records one validation cycle for audit and for
// resuming the watermark after restart.
type ProcessingBatchSummary struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       time.Time
	TotalRows        int
	MissingRows      int
	InvalidRows      int
	DuplicateRows    int
	ValidRows        int
	WatermarkReached int64
}

// DLQEntry is a permanently failed ingestion task, preserved for manual
// triage. Purely additive; no automatic replay.
type DLQEntry struct {
	ID         int64
	FileID     string
	FileName   string
	Error      string
	TaskID     string
	RetryCount int
	FailedAt   time.Time
}

// PipelineStats is the aggregate dashboard summary recomputed by the stats
// refresher.
type PipelineStats struct {
	TotalRecords    int64
	TotalStates     int64
	TotalCategories int64
	TotalFiles      int64
	LastUpdated     time.Time
}
