package scheduler

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var ErrManagerStopped = errors.New("scheduler is stopped")

// timerTask is a callback due at ExpiryAt.
type timerTask struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// timerHeap is a min-heap of tasks ordered by ExpiryAt
type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	task := x.(*timerTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Manager fires callbacks at their due time from a single goroutine that
// sleeps until the earliest deadline.
type Manager struct {
	heap    timerHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	tasks   map[string]*timerTask
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewManager() *Manager {
	m := &Manager{
		heap:   make(timerHeap, 0),
		wakeup: make(chan struct{}, 1),
		tasks:  make(map[string]*timerTask),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	heap.Init(&m.heap)
	return m
}

func (m *Manager) Start() {
	go m.run()
}

// Stop stops firing callbacks. Callbacks already running are not waited on.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()
	<-m.done
}

// Schedule runs callback at expiryAt, replacing any task with the same id.
func (m *Manager) Schedule(id string, expiryAt time.Time, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if existing, ok := m.tasks[id]; ok {
		heap.Remove(&m.heap, existing.index)
		delete(m.tasks, id)
	}

	task := &timerTask{ID: id, ExpiryAt: expiryAt, Callback: callback}
	heap.Push(&m.heap, task)
	m.tasks[id] = task

	if m.heap[0] == task {
		select {
		case m.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a scheduled task.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&m.heap, task.index)
	delete(m.tasks, id)
	return true
}

// NextRun returns when the task with id is due.
func (m *Manager) NextRun(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.ExpiryAt, true
}

// Pending returns the number of scheduled tasks.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}

		waitDuration := 24 * time.Hour
		if m.heap.Len() > 0 {
			waitDuration = time.Until(m.heap[0].ExpiryAt)
			if waitDuration <= 0 {
				task := heap.Pop(&m.heap).(*timerTask)
				delete(m.tasks, task.ID)
				go task.Callback()
				m.mu.Unlock()
				continue
			}
		}
		m.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-m.wakeup:
			timer.Stop()
		case <-m.stopCh:
			timer.Stop()
			return
		}
	}
}
