// Package scheduler runs the weekly marker advance, the scheduled library
// syncs and the bulk new-release job on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotifier/internal/pipeline"
	"github.com/justestif/spotifier/internal/playlist"
)

// DefaultInterval is the time between scheduled runs.
const DefaultInterval = 24 * time.Hour

// Runner runs the scheduled library syncs and the bulk new-release job.
type Runner interface {
	SyncScheduled(ctx context.Context) (pipeline.Tally, error)
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// Scheduler periodically advances the reset marker and runs the bulk job.
// At most one run is in progress at a time.
type Scheduler struct {
	marker     playlist.MarkerStore
	runner     Runner
	interval   time.Duration
	runOnStart bool
	now        func() time.Time
	logger     *log.Logger

	mu         sync.Mutex
	running    bool
	inProgress bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	lastRun    time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between runs. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRunOnStart makes Start trigger a run immediately.
func WithRunOnStart(v bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = v
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a Scheduler.
func New(marker playlist.MarkerStore, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		marker:   marker,
		runner:   runner,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the ticker loop. Calling Start on a running scheduler does
// nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	if s.runOnStart {
		s.Trigger(ctx)
	}
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop ends the ticker loop and waits for an in-progress run to finish,
// including runs started by Trigger on a scheduler that was never started.
// Calling Stop more than once is safe.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	if wasRunning {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	if wasRunning {
		s.logger.Info("scheduler stopped")
	}
}

// Trigger starts a run in the background unless one is already in
// progress. It reports whether a run was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return false
	}
	s.inProgress = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.inProgress = false
			s.mu.Unlock()
		}()

		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled run failed", "err", err)
		}
	}()
	return true
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// LastRun returns when the last run finished, or the zero time.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// RunOnce advances the reset marker, synchronizes the libraries of users
// with scheduled sync and then runs the bulk job. A failed sync is logged
// and does not hold back the bulk job.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	marker, advanced, err := playlist.AdvanceResetMarker(s.marker, s.now())
	if err != nil {
		return fmt.Errorf("advancing reset marker: %w", err)
	}
	if advanced {
		s.logger.Info("reset marker advanced", "marker", marker)
	}

	if _, err := s.runner.SyncScheduled(ctx); err != nil {
		s.logger.Warn("scheduled library sync failed", "err", err)
	}

	if _, err := s.runner.Run(ctx); err != nil {
		return fmt.Errorf("running new-release job: %w", err)
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.Trigger(ctx) {
				s.logger.Debug("run already in progress, skipping tick")
			}
		}
	}
}
