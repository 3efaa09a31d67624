package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bizdata-inc/listing-engine/pkg/repositories"
	"github.com/bizdata-inc/listing-engine/pkg/workqueue"
)

// processedCounterKey counts processed files across restarts when Redis is
// available.
const processedCounterKey = "listing_engine:files_processed"

// StatsTracker decides when the dashboard aggregates get recomputed: every
// Nth processed file enqueues one refresh task. Refreshes never run on the
// ingest write path and their failures never fail ingestion.
type StatsTracker struct {
	redis        *redis.Client // may be nil
	stats        repositories.StatsRepository
	queue        workqueue.TaskEnqueuer
	refreshEvery int64
	localCount   atomic.Int64
	logger       *zap.Logger
}

// NewStatsTracker creates a stats tracker. With a nil Redis client the
// counter is process-local.
func NewStatsTracker(redisClient *redis.Client, stats repositories.StatsRepository, queue workqueue.TaskEnqueuer, refreshEvery int, logger *zap.Logger) *StatsTracker {
	if refreshEvery <= 0 {
		refreshEvery = 50
	}
	return &StatsTracker{
		redis:        redisClient,
		stats:        stats,
		queue:        queue,
		refreshEvery: int64(refreshEvery),
		logger:       logger.Named("stats"),
	}
}

// FileProcessed bumps the processed-file counter and enqueues a refresh on
// every Nth file.
func (s *StatsTracker) FileProcessed(ctx context.Context) {
	count := s.nextCount(ctx)
	if count%s.refreshEvery != 0 {
		return
	}
	s.logger.Info("scheduling stats refresh", zap.Int64("files_processed", count))
	s.queue.Enqueue(NewStatsRefreshTask(s.stats, s.logger))
}

func (s *StatsTracker) nextCount(ctx context.Context) int64 {
	if s.redis != nil {
		count, err := s.redis.Incr(ctx, processedCounterKey).Result()
		if err == nil {
			return count
		}
		s.logger.Debug("redis counter unavailable, using local count", zap.Error(err))
	}
	return s.localCount.Add(1)
}

// StatsRefreshTask recomputes the dashboard aggregates.
type StatsRefreshTask struct {
	workqueue.BaseTask
	stats  repositories.StatsRepository
	logger *zap.Logger
}

// NewStatsRefreshTask creates a refresh task.
func NewStatsRefreshTask(stats repositories.StatsRepository, logger *zap.Logger) *StatsRefreshTask {
	return &StatsRefreshTask{
		BaseTask: workqueue.NewBaseTask("refresh pipeline stats"),
		stats:    stats,
		logger:   logger,
	}
}

func (t *StatsRefreshTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	if err := t.stats.Refresh(ctx); err != nil {
		// Stats are advisory. Log and report success so the queue does not
		// retry or dead-letter a dashboard refresh.
		t.logger.Warn("stats refresh failed", zap.Error(err))
	}
	return nil
}
