package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AGVPresence holds what ingestion last heard from one AGV.
type AGVPresence struct {
	AGVID     string
	FirstSeen time.Time
	LastSeen  time.Time
	ZoneID    string
	lost      bool
	mu        sync.RWMutex
}

func (p *AGVPresence) observe(zoneID string, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
	p.ZoneID = zoneID
	wasLost := p.lost
	p.lost = false
	return wasLost
}

// Lost is an AGV that just went silent.
type Lost struct {
	AGVID    string
	LastSeen time.Time
	ZoneID   string
	Silence  time.Duration
}

// Presence tracks AGVs heard by this ingestion process. An AGV silent for
// longer than the timeout is reported lost once; its next sample re-arms it.
type Presence struct {
	agvs    map[string]*AGVPresence
	mu      sync.RWMutex
	timeout time.Duration
}

// NewPresence creates a tracker with the given staleness timeout
func NewPresence(timeout time.Duration) *Presence {
	return &Presence{
		agvs:    make(map[string]*AGVPresence),
		timeout: timeout,
	}
}

// Observe records a sample receipt. It reports whether the AGV had been
// reported lost and is now back.
func (m *Presence) Observe(agvID, zoneID string, at time.Time) bool {
	m.mu.RLock()
	p, exists := m.agvs[agvID]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if p, exists = m.agvs[agvID]; !exists {
			p = &AGVPresence{AGVID: agvID, FirstSeen: at, LastSeen: at}
			m.agvs[agvID] = p
		}
		m.mu.Unlock()
	}
	return p.observe(zoneID, at)
}

// Get returns a copy of an AGV's presence.
func (m *Presence) Get(agvID string) (AGVPresence, bool) {
	m.mu.RLock()
	p, exists := m.agvs[agvID]
	m.mu.RUnlock()
	if !exists {
		return AGVPresence{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return AGVPresence{AGVID: p.AGVID, FirstSeen: p.FirstSeen, LastSeen: p.LastSeen, ZoneID: p.ZoneID, lost: p.lost}, true
}

// Sweep marks AGVs silent for longer than the timeout as lost and returns
// the ones that were not already lost, ordered by agv_id.
func (m *Presence) Sweep(now time.Time) []Lost {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lost []Lost
	for id, p := range m.agvs {
		p.mu.Lock()
		silence := now.Sub(p.LastSeen)
		if silence > m.timeout && !p.lost {
			p.lost = true
			lost = append(lost, Lost{AGVID: id, LastSeen: p.LastSeen, ZoneID: p.ZoneID, Silence: silence})
		}
		p.mu.Unlock()
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i].AGVID < lost[j].AGVID })
	return lost
}

// Online counts AGVs not currently lost.
func (m *Presence) Online() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, p := range m.agvs {
		p.mu.RLock()
		if !p.lost {
			n++
		}
		p.mu.RUnlock()
	}
	return n
}

// CountByZone counts online AGVs per last known zone.
func (m *Presence) CountByZone() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int)
	for _, p := range m.agvs {
		p.mu.RLock()
		if !p.lost && p.ZoneID != "" {
			result[p.ZoneID]++
		}
		p.mu.RUnlock()
	}
	return result
}

// Run sweeps every interval until ctx is done, handing each newly lost AGV
// to onLost.
func (m *Presence) Run(ctx context.Context, interval time.Duration, now func() time.Time, onLost func(context.Context, Lost)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range m.Sweep(now()) {
				onLost(ctx, l)
			}
		}
	}
}
