// Package jobs runs the periodic cache refresh and the defunct-issue purge.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"deskbridge/internal/joblock"
)

// Handler is one unit of scheduled work.
type Handler func(ctx context.Context) error

type jobEntry struct {
	name     string
	schedule string
	handler  Handler
	cronID   cron.EntryID
	running  atomic.Bool

	mu        sync.Mutex
	lastRun   time.Time
	lastError string
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"lastRun"`
	NextRun   time.Time `json:"nextRun"`
	LastError string    `json:"lastError,omitempty"`
}

// Scheduler runs registered jobs on cron schedules. A job never overlaps
// itself: a tick that finds the previous run still going is skipped, and
// when a Locker is configured the run must also win the cross-instance lock.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logrus.Logger
	locker  joblock.Locker
	lockTTL time.Duration

	mu   sync.Mutex
	jobs map[string]*jobEntry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler builds a stopped scheduler. locker may be nil.
func NewScheduler(logger *logrus.Logger, locker joblock.Locker, lockTTL time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		locker:  locker,
		lockTTL: lockTTL,
		jobs:    make(map[string]*jobEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Register(name, schedule string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	entry := &jobEntry{name: name, schedule: schedule, handler: handler}
	cronID, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Run(s.ctx, name); err != nil {
			s.logger.WithError(err).WithField("job_name", name).Error("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.WithFields(logrus.Fields{"job_name": name, "schedule": schedule}).Info("Job registered")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop cancels in-flight runs and waits for them, or for ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// Run executes the named job now. It reports false without error when the
// run was skipped because the job is already running here or elsewhere.
func (s *Scheduler) Run(ctx context.Context, name string) (ran bool, err error) {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job %s not found", name)
	}

	log := s.logger.WithField("job_name", name)
	if !entry.running.CompareAndSwap(false, true) {
		log.Warn("Job skipped: previous run still in progress")
		return false, nil
	}
	defer entry.running.Store(false)

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(ctx, name, s.lockTTL)
		if err != nil {
			return false, fmt.Errorf("acquire lock for %s: %w", name, err)
		}
		if !acquired {
			log.Warn("Job skipped: lock held by another instance")
			return false, nil
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				log.WithError(err).Warn("Failed to release job lock")
			}
		}()
	}

	started := time.Now()
	err = s.invoke(ctx, entry)

	entry.mu.Lock()
	entry.lastRun = started
	entry.lastError = ""
	if err != nil {
		entry.lastError = err.Error()
	}
	entry.mu.Unlock()

	log.WithField("duration", time.Since(started).String()).Info("Job finished")
	return true, err
}

func (s *Scheduler) invoke(ctx context.Context, entry *jobEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return entry.handler(ctx)
}

// Status lists registered jobs by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		entry.mu.Lock()
		items = append(items, JobStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			Running:   entry.running.Load(),
			LastRun:   entry.lastRun,
			NextRun:   s.cron.Entry(entry.cronID).Next,
			LastError: entry.lastError,
		})
		entry.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
