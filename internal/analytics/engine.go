package analytics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/agv-rtls/internal/model"
)

// Store is the read side of the position ledger, task tracker, registry
// and rollup tables.
type Store interface {
	Range(ctx context.Context, agvID string, start, end time.Time) ([]model.PositionSample, error)
	SamplesInWindow(ctx context.Context, start, end time.Time, zonedOnly bool) ([]model.PositionSample, error)
	CompletedTasks(ctx context.Context, agvID string, start, end time.Time) ([]model.Task, error)
	CountAGVs(ctx context.Context) (int, error)
	ActiveAGVCount(ctx context.Context, start, end time.Time) (int, error)
	SumDistance(ctx context.Context, start, end time.Time) (float64, error)
}

// Engine answers analytics queries over committed data. It holds no state
// between calls.
type Engine struct {
	store     Store
	th        Thresholds
	zoneNames func(zoneID string) string
	logger    *zap.Logger
}

// NewEngine creates an engine. zoneNames may be nil.
func NewEngine(store Store, th Thresholds, zoneNames func(string) string, logger *zap.Logger) *Engine {
	return &Engine{store: store, th: th, zoneNames: zoneNames, logger: logger}
}

// Trajectory returns every stride-th sample of agvID in [start, end).
func (e *Engine) Trajectory(ctx context.Context, agvID string, start, end time.Time, stride int) ([]model.PositionSample, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStride, stride)
	}
	samples, err := e.store.Range(ctx, agvID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load trajectory for %s: %w", agvID, err)
	}
	return Downsample(samples, stride)
}

// TrajectoryStats summarises agvID's full trajectory in [start, end).
func (e *Engine) TrajectoryStats(ctx context.Context, agvID string, start, end time.Time) (TrajectoryStats, error) {
	samples, err := e.store.Range(ctx, agvID, start, end)
	if err != nil {
		return TrajectoryStats{}, fmt.Errorf("failed to load trajectory for %s: %w", agvID, err)
	}
	stats := SummarizeTrajectory(samples, e.th.IdleSpeed, e.th.RateHz)
	stats.Stops = DetectStops(samples, e.th.IdleSpeed, e.th.MinStop)
	return stats, nil
}

// ZoneDwell reports per-zone dwell in [start, end).
func (e *Engine) ZoneDwell(ctx context.Context, start, end time.Time) ([]ZoneDwell, error) {
	samples, err := e.store.SamplesInWindow(ctx, start, end, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load zoned samples: %w", err)
	}
	return ComputeZoneDwell(samples, e.th.RateHz, e.zoneNames), nil
}

// ZoneTransitions reports the transition matrix for [start, end).
func (e *Engine) ZoneTransitions(ctx context.Context, start, end time.Time) ([]Transition, error) {
	samples, err := e.store.SamplesInWindow(ctx, start, end, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load zoned samples: %w", err)
	}
	return ComputeTransitions(samples), nil
}

// AGVMetrics reports agvID's metrics for the UTC date containing date.
func (e *Engine) AGVMetrics(ctx context.Context, agvID string, date time.Time) (DailyMetrics, error) {
	start, end := DayBounds(date)

	var samples []model.PositionSample
	var tasks []model.Task
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		samples, err = e.store.Range(gctx, agvID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = e.store.CompletedTasks(gctx, agvID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return DailyMetrics{}, fmt.Errorf("failed to compute metrics for %s: %w", agvID, err)
	}
	return ComputeDailyMetrics(agvID, start, samples, tasks, e.th), nil
}

// FleetKPIs reports fleet KPIs for the UTC date containing date. Distance
// comes from the hourly rollups, so it may lag raw data by up to an hour.
func (e *Engine) FleetKPIs(ctx context.Context, date time.Time) (FleetKPIs, error) {
	start, end := DayBounds(date)

	var in KPIInputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.store.CountAGVs(gctx)
		in.TotalAGVs = n
		return err
	})
	g.Go(func() error {
		n, err := e.store.ActiveAGVCount(gctx, start, end)
		in.ActiveAGVs = n
		return err
	})
	g.Go(func() error {
		d, err := e.store.SumDistance(gctx, start, end)
		in.TotalDistance = d
		return err
	})
	g.Go(func() error {
		tasks, err := e.store.CompletedTasks(gctx, "", start, end)
		if err != nil {
			return err
		}
		in.CompletedTasks = len(tasks)
		for i := range tasks {
			if d, ok := tasks[i].Duration(); ok {
				in.TaskDurations = append(in.TaskDurations, d)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return FleetKPIs{}, fmt.Errorf("failed to compute fleet KPIs for %s: %w", start.Format("2006-01-02"), err)
	}

	k := ComposeKPIs(start, in)
	e.logger.Debug("Computed fleet KPIs",
		zap.Time("date", start),
		zap.Int("total_agvs", k.TotalAGVs),
		zap.Int("active_agvs", k.ActiveAGVs),
	)
	return k, nil
}
