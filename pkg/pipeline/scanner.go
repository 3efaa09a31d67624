package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/apperrors"
	"github.com/bizdata-inc/listing-engine/pkg/breaker"
	"github.com/bizdata-inc/listing-engine/pkg/config"
	"github.com/bizdata-inc/listing-engine/pkg/drive"
	"github.com/bizdata-inc/listing-engine/pkg/metrics"
	"github.com/bizdata-inc/listing-engine/pkg/models"
	"github.com/bizdata-inc/listing-engine/pkg/normalize"
	"github.com/bizdata-inc/listing-engine/pkg/repositories"
	"github.com/bizdata-inc/listing-engine/pkg/retry"
	"github.com/bizdata-inc/listing-engine/pkg/workqueue"
)

// folderRef is one entry in the scan worklist. forced marks folders the
// changes feed reported; they are re-listed even when the registry would
// skip them.
type folderRef struct {
	id       string
	name     string
	path     string
	modified time.Time
	depth    int
	forced   bool
}

// Scanner walks the source folder tree, detects new and changed CSV files
// and hands them to the ingestion queue. After the first full walk it
// follows the changes feed instead of re-walking everything.
type Scanner struct {
	drive      drive.Client
	registry   repositories.RegistryRepository
	metadata   repositories.MetadataRepository
	queue      workqueue.TaskEnqueuer
	ingestDeps *IngestDeps
	breaker    *breaker.Breaker
	cfg        config.ScannerConfig
	rootID     string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewScanner creates a scanner rooted at rootID.
func NewScanner(
	driveClient drive.Client,
	registry repositories.RegistryRepository,
	metadata repositories.MetadataRepository,
	queue workqueue.TaskEnqueuer,
	ingestDeps *IngestDeps,
	brk *breaker.Breaker,
	cfg config.ScannerConfig,
	rootID string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scanner {
	return &Scanner{
		drive:      driveClient,
		registry:   registry,
		metadata:   metadata,
		queue:      queue,
		ingestDeps: ingestDeps,
		breaker:    brk,
		cfg:        cfg,
		rootID:     rootID,
		logger:     logger.Named("scanner"),
		metrics:    m,
	}
}

// Run executes scan cycles until the context is cancelled. The first cycle
// is always a full walk; later cycles follow the changes feed when a cursor
// is available.
func (s *Scanner) Run(ctx context.Context) {
	if files, folders, err := s.registry.Summary(ctx); err == nil {
		s.logger.Info("registry summary",
			zap.Int64("processed_files", files),
			zap.Int64("scanned_folders", folders))
	}

	if err := s.FullScan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("full scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopping")
			return
		case <-ticker.C:
			if err := s.ReactiveScan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("reactive scan failed", zap.Error(err))
			}
		}
	}
}

// FullScan walks the whole tree from the root and acquires a fresh changes
// cursor so the next cycle can be incremental. The cursor is taken before
// the walk; changes racing the walk are covered by the next reactive cycle.
func (s *Scanner) FullScan(ctx context.Context) error {
	token, err := s.drive.StartPageToken(ctx)
	if err != nil {
		s.logger.Warn("could not acquire changes cursor, next cycle walks again", zap.Error(err))
	} else if err := s.metadata.Set(ctx, repositories.MetaChangeCursor, token); err != nil {
		return fmt.Errorf("persist changes cursor: %w", err)
	}

	start := time.Now()
	s.logger.Info("full scan starting", zap.String("root", s.rootID))

	if err := s.walk(ctx, folderRef{id: s.rootID, name: "root", path: ""}); err != nil {
		return err
	}

	s.logger.Info("full scan finished", zap.Duration("took", time.Since(start)))
	return nil
}

// walk processes the tree under root level by level with a bounded worker
// pool per level. Folders past the depth limit are logged and skipped;
// a runaway nesting structure must not wedge the scanner.
func (s *Scanner) walk(ctx context.Context, root folderRef) error {
	level := []folderRef{root}

	for len(level) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var (
			mu   sync.Mutex
			next []folderRef
		)

		work := make(chan folderRef)
		var wg sync.WaitGroup
		for i := 0; i < s.cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for ref := range work {
					children, err := s.scanFolder(ctx, ref)
					if err != nil {
						if !errors.Is(err, context.Canceled) {
							s.metrics.ScanErrors.Inc()
							s.logger.Error("folder scan failed",
								zap.String("folder_id", ref.id),
								zap.String("folder", ref.name),
								zap.Error(err))
						}
						continue
					}
					mu.Lock()
					next = append(next, children...)
					mu.Unlock()
				}
			}()
		}

		for _, ref := range level {
			work <- ref
		}
		close(work)
		wg.Wait()

		level = next
	}

	return ctx.Err()
}

// scanFolder lists one folder, dispatches its changed CSVs and returns its
// subfolders for the next level.
func (s *Scanner) scanFolder(ctx context.Context, ref folderRef) ([]folderRef, error) {
	if ref.depth > 0 && !ref.forced {
		should, err := s.registry.ShouldScanFolder(ctx, ref.id, ref.modified, s.cfg.RescanTolerance)
		if err != nil {
			return nil, err
		}
		if !should {
			s.logger.Debug("folder unchanged, skipping",
				zap.String("folder", ref.name))
			return nil, nil
		}
	}

	var items []drive.Item
	err := s.breaker.Do(func() error {
		return retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
			var err error
			items, err = s.drive.ListChildren(ctx, ref.id)
			return err
		})
	})
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		s.logger.Warn("circuit open, folder deferred to next cycle",
			zap.String("folder", ref.name))
		return nil, err
	}
	if err != nil {
		// The attempt is recorded either way; error status keeps the folder
		// eligible for the next cycle.
		if !errors.Is(err, context.Canceled) {
			if recErr := s.registry.RecordFolderScanned(ctx, &models.FolderScanRecord{
				FolderID:   ref.id,
				FolderName: ref.name,
				ModifiedAt: ref.modified,
				Status:     "error",
			}); recErr != nil {
				s.logger.Warn("failed to record folder scan",
					zap.String("folder", ref.name), zap.Error(recErr))
			}
		}
		return nil, fmt.Errorf("list %s: %w", ref.id, err)
	}

	s.metrics.FoldersScanned.Inc()

	var (
		children []folderRef
		csvCount int
	)
	for _, item := range items {
		switch {
		case item.IsFolder():
			if ref.depth+1 >= s.cfg.MaxDepth {
				s.logger.Warn("max depth reached, skipping subtree",
					zap.String("folder", item.Name),
					zap.Int("depth", ref.depth+1))
				continue
			}
			children = append(children, folderRef{
				id:       item.ID,
				name:     item.Name,
				path:     path.Join(ref.path, item.Name),
				modified: parseDriveTime(item.ModifiedTime),
				depth:    ref.depth + 1,
			})
		case item.IsCSV():
			csvCount++
			if err := s.considerFile(ctx, item, ref); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil, err
				}
				s.metrics.ScanErrors.Inc()
				s.logger.Error("file dispatch failed",
					zap.String("file", item.Name), zap.Error(err))
			}
		}
	}

	if err := s.registry.RecordFolderScanned(ctx, &models.FolderScanRecord{
		FolderID:   ref.id,
		FolderName: ref.name,
		ModifiedAt: ref.modified,
		CSVCount:   csvCount,
	}); err != nil {
		return children, err
	}

	return children, nil
}

// considerFile enqueues an ingestion task when the file's fingerprint says
// it is new or changed.
func (s *Scanner) considerFile(ctx context.Context, item drive.Item, parent folderRef) error {
	s.metrics.FilesDiscovered.Inc()

	fingerprint := normalize.Fingerprint(item.ID, item.ModifiedTime)
	should, err := s.registry.ShouldProcess(ctx, item.ID, fingerprint)
	if err != nil {
		return err
	}
	if !should {
		s.metrics.FilesSkipped.Inc()
		return nil
	}

	file := models.SourceFile{
		ID:           item.ID,
		Name:         item.Name,
		FolderID:     parent.id,
		FolderName:   parent.name,
		Path:         parent.path,
		ModifiedTime: parseDriveTime(item.ModifiedTime),
		Fingerprint:  fingerprint,
	}

	s.queue.Enqueue(NewIngestTask(file, s.ingestDeps))
	s.metrics.FilesEnqueued.Inc()
	s.logger.Info("file enqueued",
		zap.String("file", item.Name),
		zap.String("folder", parent.name))
	return nil
}

// ReactiveScan drains the changes feed from the stored cursor. Without a
// cursor it falls back to a full walk.
func (s *Scanner) ReactiveScan(ctx context.Context) error {
	cursor, err := s.metadata.Get(ctx, repositories.MetaChangeCursor)
	if errors.Is(err, apperrors.ErrNotFound) {
		return s.FullScan(ctx)
	}
	if err != nil {
		return err
	}

	// Folders changed in this batch, deduplicated: a folder reported ten
	// times is still walked once.
	changedFolders := make(map[string]folderRef)
	token := cursor

	for {
		var list *drive.ChangeList
		err := s.breaker.Do(func() error {
			return retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
				var err error
				list, err = s.drive.Changes(ctx, token)
				return err
			})
		})
		if errors.Is(err, apperrors.ErrCursorExpired) {
			return s.recoverExpiredCursor(ctx)
		}
		if err != nil {
			return fmt.Errorf("changes from cursor: %w", err)
		}

		for _, change := range list.Changes {
			if change.Removed || change.File == nil {
				continue
			}
			item := *change.File
			switch {
			case item.IsFolder():
				changedFolders[item.ID] = folderRef{
					id:       item.ID,
					name:     item.Name,
					modified: parseDriveTime(item.ModifiedTime),
					depth:    1,
					forced:   true,
				}
			case item.IsCSV():
				if err := s.considerFile(ctx, item, folderRef{id: s.rootID, name: "root"}); err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					s.metrics.ScanErrors.Inc()
					s.logger.Error("change dispatch failed",
						zap.String("file", item.Name), zap.Error(err))
				}
			}
		}

		if list.NextPageToken != "" {
			token = list.NextPageToken
			continue
		}

		for _, ref := range changedFolders {
			if err := s.walk(ctx, ref); err != nil {
				return err
			}
		}

		// Cursor advances only after the whole batch is dispatched, so a
		// crash mid-batch replays it. Dispatch is idempotent.
		if list.NewStartPageToken != "" {
			if err := s.metadata.Set(ctx, repositories.MetaChangeCursor, list.NewStartPageToken); err != nil {
				return fmt.Errorf("persist changes cursor: %w", err)
			}
			if err := s.metadata.Set(ctx, repositories.MetaLastKnownGood, time.Now().UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("persist last known good: %w", err)
			}
		}
		return nil
	}
}

// recoverExpiredCursor handles a cursor the source no longer honors: keep
// the last-known-good timestamp for operators, take a fresh cursor, then
// close the visibility gap with a full walk.
func (s *Scanner) recoverExpiredCursor(ctx context.Context) error {
	lastGood, err := s.metadata.Get(ctx, repositories.MetaLastKnownGood)
	if err != nil {
		lastGood = "unknown"
	}
	s.logger.Warn("changes cursor expired, falling back to full scan",
		zap.String("last_known_good", lastGood))

	return s.FullScan(ctx)
}

func parseDriveTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
