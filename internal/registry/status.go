package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

var (
	ErrUnknownAGV          = errors.New("unknown agv")
	ErrMultipleActiveTasks = errors.New("agv has more than one IN_PROGRESS task")
)

// Store is the read contract the registry view needs.
type Store interface {
	GetAGV(ctx context.Context, agvID string) (*model.AGV, error)
	ListAGVs(ctx context.Context) ([]model.AGV, error)
	LatestSample(ctx context.Context, agvID string, since time.Time) (*model.PositionSample, error)
	LatestSamples(ctx context.Context, since time.Time) ([]model.PositionSample, error)
	InProgressTasks(ctx context.Context) ([]model.Task, error)
}

// ZoneLookup resolves zone ids to definitions.
type ZoneLookup interface {
	Zone(id string) (model.Zone, bool)
}

// Status is the current derived state of one AGV.
type Status struct {
	AGVID          string
	ZoneID         *string
	ZoneName       string
	X, Y           *float64
	Speed          *float64
	Heading        *float64
	BatteryPercent *float64
	LastSample     *time.Time
	// Staleness is the age of the newest known sample; nil when the AGV has
	// never reported.
	Staleness *time.Duration
	// Stale is set when no sample falls within the lookback and the zone is
	// the configured home zone.
	Stale bool
}

// SnapshotEntry is one row of the fleet snapshot.
type SnapshotEntry struct {
	AGV        model.AGV
	Position   *model.PositionSample
	ZoneName   string
	ActiveTask *model.Task
}

// View derives current AGV state from the ledger and the task tracker.
type View struct {
	store    Store
	zones    func() ZoneLookup
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewView creates a registry view. zones returns the zone snapshot to use
// for a single call.
func NewView(store Store, zones func() ZoneLookup, lookback time.Duration, logger *zap.Logger) *View {
	return &View{
		store:    store,
		zones:    zones,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
	}
}

// CurrentStatus returns the AGV's latest state within the lookback, or its
// home zone when nothing recent exists.
func (v *View) CurrentStatus(ctx context.Context, agvID string) (*Status, error) {
	agv, err := v.store.GetAGV(ctx, agvID)
	if err != nil {
		return nil, err
	}
	if agv == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAGV, agvID)
	}

	now := v.now()
	sample, err := v.store.LatestSample(ctx, agvID, now.Add(-v.lookback))
	if err != nil {
		return nil, err
	}

	zl := v.zones()
	st := &Status{AGVID: agvID}
	if sample != nil {
		ts := sample.Timestamp
		age := now.Sub(ts)
		st.ZoneID = sample.ZoneID
		st.X, st.Y = &sample.X, &sample.Y
		st.Speed = &sample.Speed
		st.Heading = &sample.Heading
		st.BatteryPercent = sample.BatteryPercent
		st.LastSample = &ts
		st.Staleness = &age
	} else {
		st.Stale = true
		st.ZoneID = agv.HomeZoneID
		if agv.LastSeen != nil {
			ts := *agv.LastSeen
			age := now.Sub(ts)
			st.LastSample = &ts
			st.Staleness = &age
		}
	}
	if st.ZoneID != nil {
		if z, ok := zl.Zone(*st.ZoneID); ok {
			st.ZoneName = z.Name
		}
	}
	return st, nil
}

// FleetSnapshot lists every registered AGV ordered by agv_id with its latest
// position within the lookback and its IN_PROGRESS task.
func (v *View) FleetSnapshot(ctx context.Context) ([]SnapshotEntry, error) {
	agvs, err := v.store.ListAGVs(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := v.store.LatestSamples(ctx, v.now().Add(-v.lookback))
	if err != nil {
		return nil, err
	}
	tasks, err := v.store.InProgressTasks(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := BuildSnapshot(agvs, latest, tasks, v.zones())
	if errors.Is(err, ErrMultipleActiveTasks) {
		v.logger.Error("Task tracker integrity violation", zap.Error(err))
	}
	return entries, err
}

// BuildSnapshot joins registry entries with positions and active tasks.
// More than one IN_PROGRESS task for an AGV is a data-integrity error.
func BuildSnapshot(agvs []model.AGV, latest []model.PositionSample, tasks []model.Task, zl ZoneLookup) ([]SnapshotEntry, error) {
	positions := make(map[string]*model.PositionSample, len(latest))
	for i := range latest {
		positions[latest[i].AGVID] = &latest[i]
	}

	active := make(map[string]*model.Task, len(tasks))
	var conflicts []string
	for i := range tasks {
		t := &tasks[i]
		if t.Status != model.TaskInProgress {
			continue
		}
		if prev, dup := active[t.AGVID]; dup {
			conflicts = append(conflicts, fmt.Sprintf("%s (%s, %s)", t.AGVID, prev.ID, t.ID))
			continue
		}
		active[t.AGVID] = t
	}
	if len(conflicts) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMultipleActiveTasks, strings.Join(conflicts, "; "))
	}

	entries := make([]SnapshotEntry, len(agvs))
	for i, a := range agvs {
		e := SnapshotEntry{AGV: a, Position: positions[a.ID], ActiveTask: active[a.ID]}
		if e.Position != nil && e.Position.HasZone() {
			if z, ok := zl.Zone(*e.Position.ZoneID); ok {
				e.ZoneName = z.Name
			}
		}
		entries[i] = e
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AGV.ID < entries[j].AGV.ID })
	return entries, nil
}
