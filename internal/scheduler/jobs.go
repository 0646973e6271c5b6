package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

var (
	ErrJobRunning = errors.New("job is already running")
	ErrLeaseHeld  = errors.New("job lease is held by another instance")
	ErrUnknownJob = errors.New("unknown job")
)

// Job is a periodic background task.
type Job struct {
	Name     string
	Schedule Schedule
	Timeout  time.Duration // 0 means no timeout
	Run      func(ctx context.Context) error
}

// Recorder appends events to the event log.
type Recorder interface {
	Record(ctx context.Context, e *model.SystemEvent) error
}

// JobStatus is the outcome of a job's most recent run.
type JobStatus struct {
	Name     string
	Running  bool
	LastRun  time.Time
	LastErr  string
	Runs     int
	Failures int
	NextRun  time.Time
}

// Runner fires jobs on their schedules. A job never overlaps itself: a tick
// that finds the previous run still going is skipped, and with a Lease only
// one replica runs it. A failed run is logged and recorded as a JOB_FAILED
// event; the next tick is still scheduled.
type Runner struct {
	timers   *Manager
	lease    Lease
	leaseTTL time.Duration
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobState
	inflight map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type jobState struct {
	job    Job
	status JobStatus
}

// NewRunner creates a runner. lease and recorder may be nil.
func NewRunner(lease Lease, leaseTTL time.Duration, recorder Recorder, logger *zap.Logger) *Runner {
	return &Runner{
		timers:   NewManager(),
		lease:    lease,
		leaseTTL: leaseTTL,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		jobs:     make(map[string]*jobState),
		inflight: make(map[string]bool),
	}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil || job.Schedule == nil {
		return fmt.Errorf("job %q needs a name, a schedule and a run function", job.Name)
	}
	r.mu.Lock()
	if _, dup := r.jobs[job.Name]; dup {
		r.mu.Unlock()
		return fmt.Errorf("job %q already registered", job.Name)
	}
	st := &jobState{job: job, status: JobStatus{Name: job.Name}}
	r.jobs[job.Name] = st
	started := r.ctx != nil
	r.mu.Unlock()

	if started {
		return r.scheduleNext(st)
	}
	return nil
}

// Start schedules every registered job.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	states := make([]*jobState, 0, len(r.jobs))
	for _, st := range r.jobs {
		states = append(states, st)
	}
	r.mu.Unlock()

	r.timers.Start()
	for _, st := range states {
		if err := r.scheduleNext(st); err != nil {
			return err
		}
	}
	r.logger.Info("Scheduler started", zap.Int("jobs", len(states)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.timers.Stop()
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Trigger runs a job now, outside its schedule, with the same single-flight
// and lease rules.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	st, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.runOnce(ctx, st)
}

// Status returns every job's latest status, ordered by name.
func (r *Runner) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.jobs))
	for name, st := range r.jobs {
		s := st.status
		if next, ok := r.timers.NextRun(name); ok {
			s.NextRun = next
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) scheduleNext(st *jobState) error {
	next := st.job.Schedule(r.now())
	return r.timers.Schedule(st.job.Name, next, func() {
		r.mu.Lock()
		ctx := r.ctx
		if ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()
		defer r.wg.Done()

		if err := r.runOnce(ctx, st); errors.Is(err, ErrJobRunning) {
			r.logger.Warn("Skipping tick, previous run still in progress", zap.String("job", st.job.Name))
		}
		if err := r.scheduleNext(st); err != nil && !errors.Is(err, ErrManagerStopped) {
			r.logger.Error("Failed to reschedule job", zap.String("job", st.job.Name), zap.Error(err))
		}
	})
}

func (r *Runner) runOnce(ctx context.Context, st *jobState) error {
	job := st.job
	return r.guard(ctx, job.Name, st, func(ctx context.Context) error {
		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}
		return job.Run(ctx)
	})
}

// Guard runs fn under the single-flight and lease rules of the job called
// name, so an on-demand run never overlaps a scheduled one. name need not be
// a registered job.
func (r *Runner) Guard(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	st := r.jobs[name]
	r.mu.Unlock()
	return r.guard(ctx, name, st, fn)
}

func (r *Runner) guard(ctx context.Context, name string, st *jobState, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.inflight[name] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	r.inflight[name] = true
	if st != nil {
		st.status.Running = true
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, name)
		if st != nil {
			st.status.Running = false
		}
		r.mu.Unlock()
	}()

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, name, r.leaseTTL)
		if err != nil {
			r.logger.Warn("Lease check failed, skipping run", zap.String("job", name), zap.Error(err))
			return err
		}
		if !ok {
			r.logger.Debug("Lease held elsewhere, skipping run", zap.String("job", name))
			return fmt.Errorf("%w: %s", ErrLeaseHeld, name)
		}
		defer func() {
			if err := r.lease.Release(context.Background(), name); err != nil {
				r.logger.Warn("Failed to release lease", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	started := r.now()
	err := invoke(ctx, name, fn)
	elapsed := r.now().Sub(started)
	if st != nil {
		r.finish(st, started, err)
	}

	if err != nil {
		r.logger.Error("Job failed", zap.String("job", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		r.recordFailure(name, started, elapsed, err)
		return err
	}
	r.logger.Info("Job completed", zap.String("job", name), zap.Duration("elapsed", elapsed))
	return nil
}

func invoke(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", name, p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) finish(st *jobState, started time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.status.LastRun = started
	st.status.Runs++
	st.status.LastErr = ""
	if err != nil {
		st.status.Failures++
		st.status.LastErr = err.Error()
	}
}

func (r *Runner) recordFailure(name string, started time.Time, elapsed time.Duration, jobErr error) {
	if r.recorder == nil {
		return
	}
	ev := model.NewSystemEvent(model.EventJobFailed, model.SeverityError,
		fmt.Sprintf("Scheduled job %s failed", name),
		map[string]any{
			"job":        name,
			"started_at": started.UTC(),
			"elapsed_ms": elapsed.Milliseconds(),
			"error":      jobErr.Error(),
		}, r.now())
	// The job's context may be the reason it failed.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.recorder.Record(ctx, ev); err != nil {
		r.logger.Error("Failed to record job failure", zap.String("job", name), zap.Error(err))
	}
}
