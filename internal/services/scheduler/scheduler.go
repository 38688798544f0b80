// Package scheduler runs the periodic maintenance jobs. Each job is singleton
// per process: a tick that fires while the previous run is still going is
// skipped, and a panic inside a job never takes the scheduler down.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/internal/system"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// maxJobDeadline caps how long any single run may take regardless of period.
const maxJobDeadline = 5 * time.Minute

// drainTimeout bounds how long Stop waits for in-flight runs.
const drainTimeout = 15 * time.Second

// Job is one periodic unit of work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler drives registered jobs on their periods.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
	log     *logger.Logger
}

var _ system.Service = (*Scheduler)(nil)

// New creates a scheduler with no jobs registered.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{log: log}
}

// Add registers a job. Jobs added after Start are ignored.
func (s *Scheduler) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.Run == nil || j.Every <= 0 {
		return
	}
	s.jobs = append(s.jobs, j)
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start launches the cron runner. Each job's deadline is the smaller of its
// period and maxJobDeadline.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.runCtx = runCtx
	s.cancel = cancel

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log})))
	for _, j := range s.jobs {
		job := j
		running := false
		var mu sync.Mutex
		entry := func() {
			mu.Lock()
			if running {
				mu.Unlock()
				metrics.ObserveJobSkip(job.Name)
				s.log.Warnf("job %s still running, skipping tick", job.Name)
				return
			}
			running = true
			mu.Unlock()
			defer func() {
				mu.Lock()
				running = false
				mu.Unlock()
			}()
			s.runOnce(runCtx, job)
		}
		if _, err := c.AddFunc("@every "+job.Every.String(), entry); err != nil {
			cancel()
			return err
		}
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.Infof("scheduler started with %d jobs", len(s.jobs))
	return nil
}

// Stop halts scheduling and waits for running jobs, bounded by drainTimeout
// and the caller's ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	drained := c.Stop().Done()
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	defer cancel()

	select {
	case <-drained:
		return nil
	case <-timer.C:
		cancel()
	case <-ctx.Done():
		cancel()
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return apperrors.NotFound("job_unknown", "no job named "+name)
	}
	s.runOnce(ctx, *found)
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	deadline := job.Every
	if deadline > maxJobDeadline {
		deadline = maxJobDeadline
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.WithError(err).WithField("job", job.Name).Warn("job run failed")
	}
	metrics.ObserveJobRun(job.Name, outcome, elapsed)
	s.log.WithField("job", job.Name).Debugf("job finished in %s", elapsed)
}

// cronLogger adapts pkg/logger to cron's logging interface, used by the
// panic-recovery chain.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).Errorf("cron: %s %v", msg, keysAndValues)
}
