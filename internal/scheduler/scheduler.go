// Package scheduler implements the Task Scheduler: cron-expression jobs
// that execute at-most-once per tick across the fleet, using internal/lock
// for cross-replica leader election. Only robfig/cron/v3's expression
// parser is used; the run loop itself is ours, because every tick must
// attempt leader election before invoking the handler, which a library's
// own scheduling loop has no hook for.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// defaultMinLockTTL is the floor lock lease chosen so
// back-to-back ticks of a minutely schedule cannot double-fire.
const defaultMinLockTTL = 59 * time.Second

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Handler is the work performed by a job when this replica wins
// leadership for a given tick.
type Handler func(ctx context.Context) error

// Job describes one scheduled, cross-replica-exclusive task.
type Job struct {
	Name       string
	Schedule   string
	Handler    Handler
	MinLockTTL time.Duration

	schedule cron.Schedule
}

// Scheduler runs registered Jobs on their own tick loops, electing a
// single leader per tick via internal/lock.Mutex so that exactly one
// replica executes each job per interval.
type Scheduler struct {
	mutex *lock.Mutex

	mu      sync.Mutex
	jobs    []*Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Scheduler backed by mutex for leader election.
func New(mutex *lock.Mutex) *Scheduler {
	return &Scheduler{mutex: mutex}
}

// Register adds a job. It must be called before Start. The schedule
// string is validated immediately so misconfiguration fails fast at
// startup rather than silently never firing.
func (s *Scheduler) Register(j Job) error {
	sched, err := parser.Parse(j.Schedule)
	if err != nil {
		return apierror.Wrap(apierror.Validation, err, fmt.Sprintf("invalid cron schedule for job %q", j.Name))
	}
	if j.MinLockTTL == 0 {
		j.MinLockTTL = defaultMinLockTTL
	}
	j.schedule = sched

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &j)
	return nil
}

// Start begins the tick loop for every registered job. Safe to call once;
// a second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	jobs := append([]*Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.runJobLoop(runCtx, j)
	}
}

// Stop cancels the tick loops and waits for any in-flight handler
// invocation to finish, bounded by its lock's TTL.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runJobLoop(ctx context.Context, j *Job) {
	defer s.wg.Done()

	next := j.schedule.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runTick(ctx, j)
			next = j.schedule.Next(time.Now())
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, j *Job) {
	resource := "scheduled_task:" + j.Name

	if _, err := s.mutex.Acquire(ctx, resource, j.MinLockTTL); err != nil {
		if apierror.KindOf(err) == apierror.Busy {
			metrics.SchedulerIsLeader.WithLabelValues(j.Name).Set(0)
			return
		}
		logging.Warn(ctx, "scheduler: leader election failed", zap.String("job", j.Name), zap.Error(err))
		return
	}
	// The lease is not released when the handler returns; it expires after
	// MinLockTTL, so a replica whose timer fires later for the same tick
	// still finds it held and skips.
	defer metrics.SchedulerIsLeader.WithLabelValues(j.Name).Set(0)

	metrics.SchedulerIsLeader.WithLabelValues(j.Name).Set(1)
	logging.Info(ctx, "scheduler: elected leader, running job", zap.String("job", j.Name))

	handlerCtx, cancel := context.WithTimeout(ctx, j.MinLockTTL)
	defer cancel()

	if err := j.Handler(handlerCtx); err != nil {
		metrics.SchedulerJobRuns.WithLabelValues(j.Name, "error").Inc()
		logging.Error(ctx, "scheduler: job handler failed", zap.String("job", j.Name), zap.Error(err))
		return
	}
	metrics.SchedulerJobRuns.WithLabelValues(j.Name, "success").Inc()
}
