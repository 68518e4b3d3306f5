// Package scheduler runs the periodic loyalty jobs: the points expiry sweep
// and the dispatch of due scheduled campaigns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
)

// Job names.
const (
	JobExpirePoints = "expire-points"
	JobCampaigns    = "campaigns"
)

// ErrUnknownJob is returned by Run for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc performs one run and returns a short summary for the log.
type JobFunc func(ctx context.Context) (logrus.Fields, error)

type job struct {
	name string
	spec string
	fn   JobFunc
	mu   sync.Mutex
}

// Scheduler owns a cron instance and the registered jobs. Runs of the same
// job never overlap, whether triggered by cron or by Run.
type Scheduler struct {
	cron    *cron.Cron
	log     *logrus.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a scheduler evaluating specs in UTC. Each run gets its own
// context bounded by timeout.
func New(log *logrus.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cl := cron.PrintfLogger(log.WithField("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		log:     log,
		timeout: timeout,
		jobs:    make(map[string]*job),
	}
}

// Add registers a job. An empty spec registers it for manual runs only.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, func() { s.runScheduled(j) }); err != nil {
			return fmt.Errorf("job %q: invalid spec %q: %w", name, spec, err)
		}
	}
	s.jobs[name] = j
	return nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", s.Names()).Info("scheduler started")
}

// Stop stops the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// Run executes a job now and waits for it, blocking while a scheduled run
// of the same job is in progress.
func (s *Scheduler) Run(ctx context.Context, name string) (logrus.Fields, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return s.execute(ctx, j)
}

func (s *Scheduler) runScheduled(j *job) {
	if !j.mu.TryLock() {
		s.log.WithField("job", j.name).Info("previous run still in progress, skipping")
		return
	}
	defer j.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) (logrus.Fields, error) {
	start := time.Now()
	fields, err := j.fn(ctx)
	elapsed := time.Since(start)
	metrics.JobRun(j.name, elapsed, err == nil)

	entry := s.log.WithField("job", j.name).WithField("duration_ms", elapsed.Milliseconds())
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if err != nil {
		entry.WithError(err).Error("job failed")
		return fields, err
	}
	entry.Info("job finished")
	return fields, nil
}
