package violation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/analytics"
	"github.com/smukkama/agv-rtls/internal/database"
	"github.com/smukkama/agv-rtls/internal/model"
)

// Store is the read side the checks scan.
type Store interface {
	ZoneHits(ctx context.Context, since time.Time, zoneIDs []string) ([]database.ZoneHit, error)
	ZoneOccupancies(ctx context.Context, since time.Time) ([]database.ZoneOccupancy, error)
	LatestBatteryBelow(ctx context.Context, since time.Time, threshold float64) ([]database.BatteryReading, error)
	AnomalousSamples(ctx context.Context, since time.Time, maxAccel, minQuality float64) ([]model.PositionSample, error)
	LatestSamples(ctx context.Context, since time.Time) ([]model.PositionSample, error)
}

// ZoneCatalog is the current zone snapshot.
type ZoneCatalog interface {
	Zone(id string) (model.Zone, bool)
	IDsByType(t model.ZoneType) []string
}

// Recorder appends events to the event log.
type Recorder interface {
	Record(ctx context.Context, e *model.SystemEvent) error
}

// Config tunes the checks.
type Config struct {
	Cooldown          time.Duration // restricted entry, speed and battery
	OvercrowdWindow   time.Duration
	OvercrowdCooldown time.Duration // 0 re-emits every cycle
	BatteryLowPercent float64       // 0 disables

	// Anomaly enables the anomaly check when either threshold is set.
	Anomaly analytics.Thresholds

	// Collision risk is evaluated on each AGV's newest sample within
	// CollisionWindow. A pair closer than CollisionDistance (0 disables)
	// and closing within CollisionHorizon is a risk; within
	// CollisionCritical it is critical.
	CollisionDistance float64
	CollisionWindow   time.Duration
	CollisionHorizon  time.Duration
	CollisionCritical time.Duration
}

// Report counts the events one run emitted.
type Report struct {
	RestrictedEntries int
	Overcrowded       int
	Speeding          int
	BatteryLow        int
	Anomalies         int
	CollisionRisks    int
	Suppressed        int
}

// Total is the number of events emitted.
func (r Report) Total() int {
	return r.RestrictedEntries + r.Overcrowded + r.Speeding + r.BatteryLow + r.Anomalies + r.CollisionRisks
}

// Detector scans recent samples for policy breaches. Callers must not run
// two checks concurrently; the scheduler runs it single-flight.
type Detector struct {
	store    Store
	zones    func() ZoneCatalog
	cooldown Cooldown
	recorder Recorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewDetector(store Store, zones func() ZoneCatalog, cooldown Cooldown, recorder Recorder, cfg Config, logger *zap.Logger) *Detector {
	return &Detector{
		store:    store,
		zones:    zones,
		cooldown: cooldown,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Check runs every check against samples newer than window (the overcrowding
// check uses its own, shorter window). A failing check does not stop the
// others; their errors are joined.
func (d *Detector) Check(ctx context.Context, window time.Duration) (Report, error) {
	now := d.now()
	zones := d.zones()
	var report Report

	errs := []error{
		d.checkRestricted(ctx, zones, now, now.Add(-window), &report),
		d.checkOvercrowding(ctx, zones, now, &report),
		d.checkSpeed(ctx, zones, now, now.Add(-window), &report),
		d.checkBattery(ctx, now, now.Add(-window), &report),
		d.checkAnomalies(ctx, now, now.Add(-window), &report),
		d.checkCollisions(ctx, now, &report),
	}

	d.logger.Info("Violation check completed",
		zap.Duration("window", window),
		zap.Int("restricted", report.RestrictedEntries),
		zap.Int("overcrowded", report.Overcrowded),
		zap.Int("speeding", report.Speeding),
		zap.Int("battery_low", report.BatteryLow),
		zap.Int("anomalies", report.Anomalies),
		zap.Int("collision_risks", report.CollisionRisks),
		zap.Int("suppressed", report.Suppressed),
	)
	return report, errors.Join(errs...)
}

func (d *Detector) checkRestricted(ctx context.Context, zones ZoneCatalog, now, since time.Time, report *Report) error {
	restricted := zones.IDsByType(model.ZoneRestricted)
	if len(restricted) == 0 {
		return nil
	}
	hits, err := d.store.ZoneHits(ctx, since, restricted)
	if err != nil {
		return fmt.Errorf("restricted entry check: %w", err)
	}

	for _, h := range hits {
		z, _ := zones.Zone(h.ZoneID)
		ev := model.NewSystemEvent(model.EventZoneViolation, model.SeverityCritical,
			fmt.Sprintf("AGV %s entered restricted zone %s", h.AGVID, zoneLabel(z, h.ZoneID)),
			map[string]any{
				"violation": "RESTRICTED_ENTRY",
				"last_seen": h.LastSeen.UTC(),
				"samples":   h.Samples,
			}, now).WithAGV(h.AGVID).WithZone(h.ZoneID)

		fired, err := d.emit(ctx, ev, d.cfg.Cooldown, now)
		if err != nil {
			return fmt.Errorf("restricted entry check: %w", err)
		}
		if fired {
			report.RestrictedEntries++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

func (d *Detector) checkOvercrowding(ctx context.Context, zones ZoneCatalog, now time.Time, report *Report) error {
	occupancies, err := d.store.ZoneOccupancies(ctx, now.Add(-d.cfg.OvercrowdWindow))
	if err != nil {
		return fmt.Errorf("overcrowding check: %w", err)
	}

	for _, o := range occupancies {
		z, ok := zones.Zone(o.ZoneID)
		if !ok || z.MaxAGVs <= 0 || len(o.AGVIDs) <= z.MaxAGVs {
			continue
		}
		ev := model.NewSystemEvent(model.EventZoneViolation, model.SeverityWarning,
			fmt.Sprintf("Zone %s overcrowded: %d AGVs (max %d)", zoneLabel(z, o.ZoneID), len(o.AGVIDs), z.MaxAGVs),
			map[string]any{
				"violation": "OVERCROWDING",
				"agvs":      o.AGVIDs,
				"max_agvs":  z.MaxAGVs,
				"actual":    len(o.AGVIDs),
			}, now).WithZone(o.ZoneID)

		fired, err := d.emit(ctx, ev, d.cfg.OvercrowdCooldown, now)
		if err != nil {
			return fmt.Errorf("overcrowding check: %w", err)
		}
		if fired {
			report.Overcrowded++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

func (d *Detector) checkSpeed(ctx context.Context, zones ZoneCatalog, now, since time.Time, report *Report) error {
	hits, err := d.store.ZoneHits(ctx, since, nil)
	if err != nil {
		return fmt.Errorf("speed check: %w", err)
	}

	for _, h := range hits {
		z, ok := zones.Zone(h.ZoneID)
		if !ok || z.MaxSpeed <= 0 || h.MaxSpeed <= z.MaxSpeed {
			continue
		}
		ev := model.NewSystemEvent(model.EventSpeedViolation, model.SeverityWarning,
			fmt.Sprintf("AGV %s reached %.2f m/s in zone %s (limit %.2f)", h.AGVID, h.MaxSpeed, zoneLabel(z, h.ZoneID), z.MaxSpeed),
			map[string]any{
				"observed_mps": h.MaxSpeed,
				"limit_mps":    z.MaxSpeed,
			}, now).WithAGV(h.AGVID).WithZone(h.ZoneID)

		fired, err := d.emit(ctx, ev, d.cfg.Cooldown, now)
		if err != nil {
			return fmt.Errorf("speed check: %w", err)
		}
		if fired {
			report.Speeding++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

func (d *Detector) checkBattery(ctx context.Context, now, since time.Time, report *Report) error {
	if d.cfg.BatteryLowPercent <= 0 {
		return nil
	}
	readings, err := d.store.LatestBatteryBelow(ctx, since, d.cfg.BatteryLowPercent)
	if err != nil {
		return fmt.Errorf("battery check: %w", err)
	}

	for _, r := range readings {
		ev := model.NewSystemEvent(model.EventBatteryLow, model.SeverityWarning,
			fmt.Sprintf("AGV %s battery at %.0f%%", r.AGVID, r.Percent),
			map[string]any{
				"battery_percent": r.Percent,
				"threshold":       d.cfg.BatteryLowPercent,
				"reported_at":     r.At.UTC(),
			}, now).WithAGV(r.AGVID)

		fired, err := d.emit(ctx, ev, d.cfg.Cooldown, now)
		if err != nil {
			return fmt.Errorf("battery check: %w", err)
		}
		if fired {
			report.BatteryLow++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

func (d *Detector) checkAnomalies(ctx context.Context, now, since time.Time, report *Report) error {
	th := d.cfg.Anomaly
	if th.AnomalyAccel <= 0 && th.AnomalyQuality <= 0 {
		return nil
	}
	samples, err := d.store.AnomalousSamples(ctx, since, th.AnomalyAccel, th.AnomalyQuality)
	if err != nil {
		return fmt.Errorf("anomaly check: %w", err)
	}

	for _, s := range samples {
		if !analytics.IsAnomalous(s, th) {
			continue
		}
		reasons := anomalyReasons(s, th)
		ev := model.NewSystemEvent(model.EventAnomalyDetected, model.SeverityWarning,
			fmt.Sprintf("Anomaly detected for AGV %s: %s", s.AGVID, strings.Join(reasons, ", ")),
			map[string]any{
				"reasons":     reasons,
				"accel_mps2":  s.Acceleration,
				"quality":     s.Quality,
				"error_code":  s.ErrorCode,
				"position":    []float64{s.X, s.Y},
				"reported_at": s.Timestamp.UTC(),
			}, now).WithAGV(s.AGVID)
		if s.HasZone() {
			ev.WithZone(*s.ZoneID)
		}

		fired, err := d.emit(ctx, ev, d.cfg.Cooldown, now)
		if err != nil {
			return fmt.Errorf("anomaly check: %w", err)
		}
		if fired {
			report.Anomalies++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

func anomalyReasons(s model.PositionSample, th analytics.Thresholds) []string {
	var reasons []string
	if th.AnomalyAccel > 0 && math.Abs(s.Acceleration) > th.AnomalyAccel {
		reasons = append(reasons, "harsh acceleration")
	}
	if s.Quality != nil && *s.Quality < th.AnomalyQuality {
		reasons = append(reasons, "poor position quality")
	}
	if s.ErrorCode != nil && *s.ErrorCode != "" {
		reasons = append(reasons, "error code "+*s.ErrorCode)
	}
	return reasons
}

// CollisionRisk is a pair of AGVs closing on each other.
type CollisionRisk struct {
	AGV1, AGV2      string
	Distance        float64
	TimeToCollision time.Duration
}

// CollisionRisks evaluates every pair of samples. Only pairs closer than
// distance whose separation shrinks fast enough to meet within horizon are
// returned, ordered as the input.
func CollisionRisks(latest []model.PositionSample, distance float64, horizon time.Duration) []CollisionRisk {
	var risks []CollisionRisk
	for i := 0; i < len(latest); i++ {
		for j := i + 1; j < len(latest); j++ {
			a, b := latest[i], latest[j]
			dx, dy := b.X-a.X, b.Y-a.Y
			dist := math.Hypot(dx, dy)
			if dist >= distance {
				continue
			}
			var ttc float64
			if dist > 0 {
				vx := velocity(b, math.Cos) - velocity(a, math.Cos)
				vy := velocity(b, math.Sin) - velocity(a, math.Sin)
				closing := -(dx*vx + dy*vy) / dist
				if closing <= 0 {
					continue
				}
				ttc = dist / closing
			}
			if ttc >= horizon.Seconds() {
				continue
			}
			risks = append(risks, CollisionRisk{
				AGV1:            a.AGVID,
				AGV2:            b.AGVID,
				Distance:        dist,
				TimeToCollision: time.Duration(ttc * float64(time.Second)),
			})
		}
	}
	return risks
}

// velocity projects the sample's speed on heading through f (cos for x, sin
// for y). Headings are degrees counter-clockwise from the +x axis.
func velocity(s model.PositionSample, f func(float64) float64) float64 {
	return s.Speed * f(s.Heading*math.Pi/180)
}

func (d *Detector) checkCollisions(ctx context.Context, now time.Time, report *Report) error {
	if d.cfg.CollisionDistance <= 0 {
		return nil
	}
	latest, err := d.store.LatestSamples(ctx, now.Add(-d.cfg.CollisionWindow))
	if err != nil {
		return fmt.Errorf("collision check: %w", err)
	}

	for _, r := range CollisionRisks(latest, d.cfg.CollisionDistance, d.cfg.CollisionHorizon) {
		severity := model.SeverityWarning
		if r.TimeToCollision < d.cfg.CollisionCritical {
			severity = model.SeverityCritical
		}
		ev := model.NewSystemEvent(model.EventCollisionRisk, severity,
			fmt.Sprintf("Collision risk between AGV %s and AGV %s: %.2f m apart, %.1f s to contact",
				r.AGV1, r.AGV2, r.Distance, r.TimeToCollision.Seconds()),
			map[string]any{
				"agv1":                r.AGV1,
				"agv2":                r.AGV2,
				"distance_m":          r.Distance,
				"time_to_collision_s": r.TimeToCollision.Seconds(),
			}, now).WithAGV(r.AGV1)

		peer := r.AGV2
		fired, err := d.emitFor(ctx, ev, Subject{Type: ev.Type, AGVID: ev.AGVID, Peer: &peer}, d.cfg.Cooldown, now)
		if err != nil {
			return fmt.Errorf("collision check: %w", err)
		}
		if fired {
			report.CollisionRisks++
		} else {
			report.Suppressed++
		}
	}
	return nil
}

// emit records ev unless its subject is cooling down. A zero window always
// records.
func (d *Detector) emit(ctx context.Context, ev *model.SystemEvent, window time.Duration, now time.Time) (bool, error) {
	return d.emitFor(ctx, ev, Subject{Type: ev.Type, AGVID: ev.AGVID, ZoneID: ev.ZoneID}, window, now)
}

func (d *Detector) emitFor(ctx context.Context, ev *model.SystemEvent, subj Subject, window time.Duration, now time.Time) (bool, error) {
	if window > 0 {
		ok, err := d.cooldown.Acquire(ctx, subj, window, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if err := d.recorder.Record(ctx, ev); err != nil {
		if window > 0 {
			if rerr := d.cooldown.Release(ctx, subj); rerr != nil {
				d.logger.Warn("Failed to release cooldown", zap.String("event_type", string(ev.Type)), zap.Error(rerr))
			}
		}
		return false, err
	}
	return true, nil
}

func zoneLabel(z model.Zone, id string) string {
	if z.Name != "" && z.Name != id {
		return fmt.Sprintf("%s (%s)", z.Name, id)
	}
	return id
}
