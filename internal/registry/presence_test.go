package registry

import (
	"context"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestPresence_Observe(t *testing.T) {
	m := NewPresence(time.Minute)

	if back := m.Observe("A1", "Z1", t0); back {
		t.Error("first observation must not report a return")
	}
	m.Observe("A1", "Z2", t0.Add(10*time.Second))

	p, ok := m.Get("A1")
	if !ok {
		t.Fatal("A1 not tracked")
	}
	if !p.FirstSeen.Equal(t0) {
		t.Errorf("Expected first seen %v, got %v", t0, p.FirstSeen)
	}
	if !p.LastSeen.Equal(t0.Add(10 * time.Second)) {
		t.Errorf("Expected last seen +10s, got %v", p.LastSeen)
	}
	if p.ZoneID != "Z2" {
		t.Errorf("Expected zone Z2, got %s", p.ZoneID)
	}
}

func TestPresence_LastSeenNeverMovesBack(t *testing.T) {
	m := NewPresence(time.Minute)
	m.Observe("A1", "", t0.Add(time.Minute))
	m.Observe("A1", "", t0)

	p, _ := m.Get("A1")
	if !p.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("last seen moved backwards to %v", p.LastSeen)
	}
}

func TestPresence_SweepReportsOnceAndRearms(t *testing.T) {
	m := NewPresence(time.Minute)
	m.Observe("A1", "Z1", t0)
	m.Observe("A2", "Z1", t0.Add(50*time.Second))

	lost := m.Sweep(t0.Add(61 * time.Second))
	if len(lost) != 1 || lost[0].AGVID != "A1" {
		t.Fatalf("Expected A1 lost, got %+v", lost)
	}
	if lost[0].ZoneID != "Z1" {
		t.Errorf("Expected last zone Z1, got %s", lost[0].ZoneID)
	}
	if m.Online() != 1 {
		t.Errorf("Expected 1 online, got %d", m.Online())
	}

	if again := m.Sweep(t0.Add(90 * time.Second)); len(again) != 1 || again[0].AGVID != "A2" {
		t.Fatalf("Expected only A2 on second sweep, got %+v", again)
	}

	if back := m.Observe("A1", "Z3", t0.Add(2*time.Minute)); !back {
		t.Error("Expected A1 to be reported back")
	}
	if lost := m.Sweep(t0.Add(2*time.Minute + 30*time.Second)); len(lost) != 0 {
		t.Errorf("Expected nothing lost, got %+v", lost)
	}
	if lost := m.Sweep(t0.Add(3*time.Minute + time.Second)); len(lost) != 1 || lost[0].AGVID != "A1" {
		t.Errorf("Expected A1 lost again, got %+v", lost)
	}
}

func TestPresence_CountByZone(t *testing.T) {
	m := NewPresence(time.Minute)
	m.Observe("A1", "Z1", t0)
	m.Observe("A2", "Z1", t0)
	m.Observe("A3", "Z2", t0)
	m.Observe("A4", "", t0)

	counts := m.CountByZone()
	if counts["Z1"] != 2 || counts["Z2"] != 1 || len(counts) != 2 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestPresence_ConcurrentObserve(t *testing.T) {
	m := NewPresence(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.Observe("A1", "Z1", t0.Add(time.Duration(j)*time.Millisecond))
				m.Sweep(t0)
			}
		}(i)
	}
	wg.Wait()
	if m.Online() != 1 {
		t.Errorf("Expected 1 online, got %d", m.Online())
	}
}

func TestPresence_Run(t *testing.T) {
	m := NewPresence(time.Minute)
	m.Observe("A1", "Z1", t0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Lost, 1)
	go m.Run(ctx, 5*time.Millisecond, func() time.Time { return t0.Add(2 * time.Minute) }, func(_ context.Context, l Lost) {
		got <- l
	})

	select {
	case l := <-got:
		if l.AGVID != "A1" {
			t.Errorf("Expected A1, got %s", l.AGVID)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not report A1")
	}
}
