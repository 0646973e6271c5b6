package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestManager_Schedule(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	executed := false
	var mu sync.Mutex

	err := m.Schedule("test1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		executed = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if !executed {
		t.Error("Task was not executed")
	}
	mu.Unlock()
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	executed := false
	var mu sync.Mutex

	if err := m.Schedule("test1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		executed = true
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if !m.Cancel("test1") {
		t.Error("Cancel returned false")
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if executed {
		t.Error("Task was executed despite being cancelled")
	}
	mu.Unlock()
}

func TestManager_Ordering(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	var results []int
	var mu sync.Mutex
	record := func(n int) func() {
		return func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
		}
	}

	m.Schedule("task3", time.Now().Add(150*time.Millisecond), record(3))
	m.Schedule("task1", time.Now().Add(50*time.Millisecond), record(1))
	m.Schedule("task2", time.Now().Add(100*time.Millisecond), record(2))

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Tasks executed in wrong order: %v", results)
	}
}

func TestManager_RescheduleReplaces(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	count := 0
	var mu sync.Mutex

	m.Schedule("test1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	m.Schedule("test1", time.Now().Add(50*time.Millisecond), func() {
		mu.Lock()
		count += 10
		mu.Unlock()
	})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	if count != 10 {
		t.Errorf("Expected count=10 (only second task), got %d", count)
	}
	mu.Unlock()
}

func TestManager_ScheduleAfterStop(t *testing.T) {
	m := NewManager()
	m.Start()
	m.Schedule("task1", time.Now().Add(time.Hour), func() {})
	if m.Pending() != 1 {
		t.Errorf("Expected 1 pending task, got %d", m.Pending())
	}
	m.Stop()

	if err := m.Schedule("task2", time.Now(), func() {}); err != ErrManagerStopped {
		t.Errorf("Expected ErrManagerStopped, got %v", err)
	}
}
