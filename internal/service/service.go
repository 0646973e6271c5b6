package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/analytics"
	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/registry"
	"github.com/smukkama/agv-rtls/internal/rollup"
	"github.com/smukkama/agv-rtls/internal/violation"
	"github.com/smukkama/agv-rtls/internal/zones"
)

// Job names shared by the scheduler and on-demand runs.
const (
	JobViolationCheck = "violation-check"
	JobHourlyRollup   = "hourly-rollup"
	JobArchive        = "archive"
	JobZoneRefresh    = "zone-refresh"
)

var ErrInvalidWindow = errors.New("window end must be after start")

// Guard runs fn single-flight under name.
type Guard interface {
	Guard(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// HourlyHistory reads materialized hourly aggregates.
type HourlyHistory interface {
	HourlyForAGV(ctx context.Context, agvID string, start, end time.Time) ([]model.HourlyAggregate, error)
}

// EventLog is the event log's query and acknowledgement side.
type EventLog interface {
	Acknowledge(ctx context.Context, eventID, actor string) error
	Recent(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error)
}

// Deps wires the service.
type Deps struct {
	Engine   *analytics.Engine
	Registry *registry.View
	Detector *violation.Detector
	Hourly   *rollup.HourlyAggregator
	Archiver *rollup.Archiver
	History  HourlyHistory
	Events   EventLog
	Zones    *zones.Resolver
	Guard    Guard
	Logger   *zap.Logger
}

// Service is the query and administrative surface of the position store.
type Service struct {
	d Deps
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{d: deps}
}

func checkWindow(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

// Trajectory returns every stride-th sample of agvID in [start, end).
func (s *Service) Trajectory(ctx context.Context, agvID string, start, end time.Time, stride int) ([]model.PositionSample, error) {
	if err := checkWindow(start, end); err != nil {
		return nil, err
	}
	return s.d.Engine.Trajectory(ctx, agvID, start, end, stride)
}

// TrajectoryStats summarises agvID's movement in [start, end).
func (s *Service) TrajectoryStats(ctx context.Context, agvID string, start, end time.Time) (analytics.TrajectoryStats, error) {
	if err := checkWindow(start, end); err != nil {
		return analytics.TrajectoryStats{}, err
	}
	return s.d.Engine.TrajectoryStats(ctx, agvID, start, end)
}

func (s *Service) ZoneDwell(ctx context.Context, start, end time.Time) ([]analytics.ZoneDwell, error) {
	if err := checkWindow(start, end); err != nil {
		return nil, err
	}
	return s.d.Engine.ZoneDwell(ctx, start, end)
}

func (s *Service) ZoneTransitions(ctx context.Context, start, end time.Time) ([]analytics.Transition, error) {
	if err := checkWindow(start, end); err != nil {
		return nil, err
	}
	return s.d.Engine.ZoneTransitions(ctx, start, end)
}

func (s *Service) FleetSnapshot(ctx context.Context) ([]registry.SnapshotEntry, error) {
	return s.d.Registry.FleetSnapshot(ctx)
}

func (s *Service) CurrentStatus(ctx context.Context, agvID string) (*registry.Status, error) {
	return s.d.Registry.CurrentStatus(ctx, agvID)
}

func (s *Service) AGVMetrics(ctx context.Context, agvID string, date time.Time) (analytics.DailyMetrics, error) {
	return s.d.Engine.AGVMetrics(ctx, agvID, date)
}

// HourlyHistory returns agvID's materialized hourly rows in [start, end).
func (s *Service) HourlyHistory(ctx context.Context, agvID string, start, end time.Time) ([]model.HourlyAggregate, error) {
	if err := checkWindow(start, end); err != nil {
		return nil, err
	}
	return s.d.History.HourlyForAGV(ctx, agvID, start, end)
}

func (s *Service) FleetKPIs(ctx context.Context, date time.Time) (analytics.FleetKPIs, error) {
	return s.d.Engine.FleetKPIs(ctx, date)
}

// Archive moves samples older than retentionDays to cold storage.
func (s *Service) Archive(ctx context.Context, retentionDays int) (rollup.ArchiveResult, error) {
	var res rollup.ArchiveResult
	err := s.d.Guard.Guard(ctx, JobArchive, func(ctx context.Context) error {
		var err error
		res, err = s.d.Archiver.Archive(ctx, retentionDays)
		return err
	})
	return res, err
}

// RunHourlyRollup rolls up the last closed hour.
func (s *Service) RunHourlyRollup(ctx context.Context) (int, error) {
	var n int
	err := s.d.Guard.Guard(ctx, JobHourlyRollup, func(ctx context.Context) error {
		var err error
		n, err = s.d.Hourly.AggregatePreviousHour(ctx)
		return err
	})
	return n, err
}

// RunViolationCheck scans the last windowMinutes of samples.
func (s *Service) RunViolationCheck(ctx context.Context, windowMinutes int) (violation.Report, error) {
	if windowMinutes <= 0 {
		return violation.Report{}, fmt.Errorf("window must be at least one minute, got %d", windowMinutes)
	}
	var report violation.Report
	err := s.d.Guard.Guard(ctx, JobViolationCheck, func(ctx context.Context) error {
		var err error
		report, err = s.d.Detector.Check(ctx, time.Duration(windowMinutes)*time.Minute)
		return err
	})
	if err == nil {
		s.d.Logger.Info("Violation check finished",
			zap.Int("window_minutes", windowMinutes),
			zap.Int("emitted", report.Total()),
			zap.Int("suppressed", report.Suppressed),
		)
	}
	return report, err
}

func (s *Service) AcknowledgeEvent(ctx context.Context, eventID, actor string) error {
	return s.d.Events.Acknowledge(ctx, eventID, actor)
}

func (s *Service) RecentEvents(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error) {
	return s.d.Events.Recent(ctx, limit, unacknowledgedOnly)
}

// Zones lists the active zones ordered by id.
func (s *Service) Zones() []model.Zone {
	return s.d.Zones.Snapshot().Zones()
}

// AdjacentZones lists zones sharing a boundary with zoneID.
func (s *Service) AdjacentZones(zoneID string) []string {
	return s.d.Zones.Snapshot().Adjacent(zoneID)
}

// ResolveZone returns the zone owning (x, y).
func (s *Service) ResolveZone(x, y float64) (string, bool) {
	return s.d.Zones.Resolve(x, y)
}
