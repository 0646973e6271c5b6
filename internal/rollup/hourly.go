package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/analytics"
	"github.com/smukkama/agv-rtls/internal/model"
)

var ErrHourNotClosed = errors.New("hour has not closed yet")

// HourlyStore is what the hourly rollup reads and writes.
type HourlyStore interface {
	SamplesInWindow(ctx context.Context, start, end time.Time, zonedOnly bool) ([]model.PositionSample, error)
	CompletedTasks(ctx context.Context, agvID string, start, end time.Time) ([]model.Task, error)
	UpsertHourly(ctx context.Context, aggs []model.HourlyAggregate) error
}

// HourlyAggregator materializes per-AGV hourly aggregates from raw samples.
// Rerunning an hour overwrites its rows.
type HourlyAggregator struct {
	store  HourlyStore
	th     analytics.Thresholds
	logger *zap.Logger
	now    func() time.Time
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(store HourlyStore, th analytics.Thresholds, logger *zap.Logger) *HourlyAggregator {
	return &HourlyAggregator{store: store, th: th, logger: logger, now: time.Now}
}

// Aggregate recomputes the hour containing targetHour. The hour must have
// ended; rolling up an open hour would persist a partial-hour bias.
func (h *HourlyAggregator) Aggregate(ctx context.Context, targetHour time.Time) (int, error) {
	start := targetHour.UTC().Truncate(time.Hour)
	end := start.Add(time.Hour)
	if end.After(h.now()) {
		return 0, fmt.Errorf("%w: %s", ErrHourNotClosed, start.Format(time.RFC3339))
	}

	h.logger.Info("Running hourly rollup", zap.Time("hour_start", start))

	samples, err := h.store.SamplesInWindow(ctx, start, end, false)
	if err != nil {
		return 0, fmt.Errorf("failed to load samples for %s: %w", start.Format(time.RFC3339), err)
	}
	tasks, err := h.store.CompletedTasks(ctx, "", start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load tasks for %s: %w", start.Format(time.RFC3339), err)
	}

	byAGV := make(map[string][]model.PositionSample)
	for _, s := range samples {
		byAGV[s.AGVID] = append(byAGV[s.AGVID], s)
	}
	taskCount := make(map[string]int)
	for _, t := range tasks {
		taskCount[t.AGVID]++
		if _, ok := byAGV[t.AGVID]; !ok {
			byAGV[t.AGVID] = nil
		}
	}

	ids := make([]string, 0, len(byAGV))
	for id := range byAGV {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	aggs := make([]model.HourlyAggregate, 0, len(ids))
	for _, id := range ids {
		aggs = append(aggs, analytics.HourlyAggregate(id, start, byAGV[id], taskCount[id], h.th))
	}
	if err := h.store.UpsertHourly(ctx, aggs); err != nil {
		return 0, fmt.Errorf("failed to upsert hourly aggregates for %s: %w", start.Format(time.RFC3339), err)
	}

	h.logger.Info("Hourly rollup completed",
		zap.Time("hour_start", start),
		zap.Int("agvs", len(aggs)),
		zap.Int("samples", len(samples)),
	)
	return len(aggs), nil
}

// AggregatePreviousHour aggregates the last closed hour.
func (h *HourlyAggregator) AggregatePreviousHour(ctx context.Context) (int, error) {
	return h.Aggregate(ctx, h.now().Add(-time.Hour))
}

// CalculateNextRunTime returns the next HH:00+delay after now. A delay of a
// few minutes lets late samples of the closed hour land first.
func CalculateNextRunTime(now time.Time, delay time.Duration) time.Time {
	nextRun := now.Truncate(time.Hour).Add(delay)
	if !nextRun.After(now) {
		nextRun = nextRun.Add(time.Hour)
	}
	return nextRun
}
