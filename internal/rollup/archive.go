package rollup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

// ArchiveStore moves samples to cold storage and manages partitions.
type ArchiveStore interface {
	ArchiveBatch(ctx context.Context, cutoff time.Time, limit int) (archived, deleted int64, selected int, err error)
	DropEmptyPartitionsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	EnsurePartitions(ctx context.Context, from time.Time, days int) error
}

// Recorder appends events to the event log.
type Recorder interface {
	Record(ctx context.Context, e *model.SystemEvent) error
}

// ArchiveResult reports one archival pass.
type ArchiveResult struct {
	Cutoff            time.Time
	Archived          int64
	Deleted           int64
	Batches           int
	DroppedPartitions []string
}

// Archiver enforces raw-sample retention.
type Archiver struct {
	store           ArchiveStore
	recorder        Recorder
	batchSize       int
	partitionsAhead int
	logger          *zap.Logger
	now             func() time.Time
}

func NewArchiver(store ArchiveStore, recorder Recorder, batchSize, partitionsAhead int, logger *zap.Logger) *Archiver {
	return &Archiver{
		store:           store,
		recorder:        recorder,
		batchSize:       batchSize,
		partitionsAhead: partitionsAhead,
		logger:          logger,
		now:             time.Now,
	}
}

// Archive copies samples older than now-retentionDays to the archive and
// removes them from the hot table, one bounded transaction per batch. It stops
// between batches when ctx is cancelled; a rerun resumes where it stopped and
// never archives a row twice. Partial progress is returned with any error.
func (a *Archiver) Archive(ctx context.Context, retentionDays int) (ArchiveResult, error) {
	if retentionDays <= 0 {
		return ArchiveResult{}, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	now := a.now().UTC()
	res := ArchiveResult{Cutoff: now.AddDate(0, 0, -retentionDays)}

	a.logger.Info("Starting archival", zap.Time("cutoff", res.Cutoff), zap.Int("batch_size", a.batchSize))

	for {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("archival interrupted after %d batches: %w", res.Batches, err)
		}
		archived, deleted, selected, err := a.store.ArchiveBatch(ctx, res.Cutoff, a.batchSize)
		if err != nil {
			return res, fmt.Errorf("archival batch %d failed: %w", res.Batches+1, err)
		}
		if selected == 0 {
			break
		}
		res.Batches++
		res.Archived += archived
		res.Deleted += deleted
		a.logger.Debug("Archived batch",
			zap.Int("batch", res.Batches),
			zap.Int64("archived", archived),
			zap.Int64("deleted", deleted),
		)
		if selected < a.batchSize {
			break
		}
	}

	dropped, err := a.store.DropEmptyPartitionsBefore(ctx, res.Cutoff)
	res.DroppedPartitions = dropped
	if err != nil {
		a.logger.Warn("Failed to drop expired partitions", zap.Error(err))
	}
	if a.partitionsAhead > 0 {
		if err := a.store.EnsurePartitions(ctx, now, a.partitionsAhead); err != nil {
			a.logger.Warn("Failed to create upcoming partitions", zap.Error(err))
		}
	}

	ev := model.NewSystemEvent(model.EventMaintenance, model.SeverityInfo,
		fmt.Sprintf("Archived %d position samples older than %s", res.Archived, res.Cutoff.Format(time.RFC3339)),
		map[string]any{
			"cutoff":             res.Cutoff,
			"archived_count":     res.Archived,
			"deleted_count":      res.Deleted,
			"batches":            res.Batches,
			"dropped_partitions": res.DroppedPartitions,
		}, now)
	if err := a.recorder.Record(ctx, ev); err != nil {
		a.logger.Error("Failed to record archival event", zap.Error(err))
	}

	a.logger.Info("Archival completed",
		zap.Time("cutoff", res.Cutoff),
		zap.Int64("archived", res.Archived),
		zap.Int64("deleted", res.Deleted),
		zap.Int("partitions_dropped", len(res.DroppedPartitions)),
	)
	return res, nil
}
