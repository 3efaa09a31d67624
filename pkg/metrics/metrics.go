// Package metrics exposes Prometheus instrumentation for the three pipeline
// stages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pipeline records into. Collectors are
// registered on the registry passed to New, so tests can use an isolated
// registry.
type Metrics struct {
	FoldersScanned  prometheus.Counter
	FilesDiscovered prometheus.Counter
	FilesSkipped    prometheus.Counter
	FilesEnqueued   prometheus.Counter
	ScanErrors      prometheus.Counter
	BreakerState    prometheus.Gauge

	FilesProcessed prometheus.Counter
	FilesFailed    prometheus.Counter
	RowsRead       prometheus.Counter
	RowsInserted   prometheus.Counter
	RowsSkipped    prometheus.Counter
	DLQEntries     prometheus.Counter
	IngestDuration prometheus.Histogram

	RowsClassified   *prometheus.CounterVec
	RowsPromoted     prometheus.Counter
	BatchDuration    prometheus.Histogram
	WatermarkReached prometheus.Gauge
}

// New creates and registers every pipeline collector.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FoldersScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_scanner_folders_scanned_total",
			Help: "Total number of folders listed during scans",
		}),
		FilesDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_scanner_files_discovered_total",
			Help: "Total number of CSV files seen during scans",
		}),
		FilesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_scanner_files_skipped_total",
			Help: "Total number of files skipped because their fingerprint was unchanged",
		}),
		FilesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_scanner_files_enqueued_total",
			Help: "Total number of files handed to ingestion workers",
		}),
		ScanErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_scanner_errors_total",
			Help: "Total number of scan errors after retries",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "listing_scanner_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		}),

		FilesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_files_processed_total",
			Help: "Total number of files ingested to completion",
		}),
		FilesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_files_failed_total",
			Help: "Total number of files that exhausted ingestion retries",
		}),
		RowsRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_rows_read_total",
			Help: "Total number of CSV rows read",
		}),
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_rows_inserted_total",
			Help: "Total number of raw rows inserted",
		}),
		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_rows_skipped_total",
			Help: "Total number of rows skipped as exact duplicates on insert",
		}),
		DLQEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_ingest_dlq_entries_total",
			Help: "Total number of rows or files routed to the dead letter queue",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "listing_ingest_file_duration_seconds",
			Help:    "Time taken to ingest one file",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		RowsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_validate_rows_classified_total",
			Help: "Total number of raw rows classified, by outcome",
		}, []string{"status"}),
		RowsPromoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "listing_validate_rows_promoted_total",
			Help: "Total number of rows promoted to the master table",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "listing_validate_batch_duration_seconds",
			Help:    "Time taken to classify and promote one batch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		WatermarkReached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "listing_validate_watermark",
			Help: "Highest raw listing id the validation engine has classified",
		}),
	}
}
