package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/justestif/spotifier/internal/pipeline"
)

type memMarker struct {
	mu     sync.Mutex
	marker time.Time
	ok     bool
}

func (m *memMarker) Load() (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marker, m.ok, nil
}

func (m *memMarker) Save(at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marker, m.ok = at, true
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	events  []string
	err     error
	syncErr error
	block   chan struct{}
	ran     chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 16)}
}

func (f *fakeRunner) SyncScheduled(ctx context.Context) (pipeline.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "sync")
	return pipeline.Tally{}, f.syncErr
}

func (f *fakeRunner) Run(ctx context.Context) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.events = append(f.events, "run")
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	select {
	case f.ran <- struct{}{}:
	default:
	}
	return &pipeline.Summary{}, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitRun(t *testing.T, f *fakeRunner) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run")
	}
}

// 2024-06-02 is a Sunday.
var sunday = time.Date(2024, 6, 2, 23, 59, 59, 0, time.UTC)

func TestRunOnce_AdvancesMarkerThenRuns(t *testing.T) {
	marker := &memMarker{marker: sunday, ok: true}
	runner := newFakeRunner()
	now := sunday.AddDate(0, 0, 7)
	s := New(marker, runner, WithClock(func() time.Time { return now }))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !marker.marker.Equal(sunday.AddDate(0, 0, 7)) {
		t.Errorf("marker = %v, want %v", marker.marker, sunday.AddDate(0, 0, 7))
	}
	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1", runner.count())
	}
	if !s.LastRun().Equal(now) {
		t.Errorf("LastRun() = %v, want %v", s.LastRun(), now)
	}
}

func TestRunOnce_SyncsBeforeBulkJob(t *testing.T) {
	runner := newFakeRunner()
	runner.syncErr = errors.New("database unavailable")
	s := New(&memMarker{}, runner, WithClock(func() time.Time { return sunday }))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v, want the sync failure to be logged only", err)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if want := []string{"sync", "run"}; !reflect.DeepEqual(runner.events, want) {
		t.Errorf("events = %v, want %v", runner.events, want)
	}
}

func TestRunOnce_RunnerError(t *testing.T) {
	runErr := errors.New("search failed")
	runner := newFakeRunner()
	runner.err = runErr
	s := New(&memMarker{}, runner, WithClock(func() time.Time { return sunday }))

	err := s.RunOnce(context.Background())
	if !errors.Is(err, runErr) {
		t.Errorf("RunOnce() error = %v, want %v", err, runErr)
	}
	if !s.LastRun().IsZero() {
		t.Errorf("LastRun() = %v, want zero after failure", s.LastRun())
	}
}

func TestTrigger_OneRunAtATime(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := New(&memMarker{}, runner, WithClock(func() time.Time { return sunday }))

	if !s.Trigger(context.Background()) {
		t.Fatal("first Trigger() = false")
	}
	if s.Trigger(context.Background()) {
		t.Error("second Trigger() = true while a run is in progress")
	}
	if !s.Running() {
		t.Error("Running() = false during a run")
	}

	close(runner.block)
	waitRun(t, runner)
	s.Stop()

	if s.Running() {
		t.Error("Running() = true after the run finished")
	}
	if !s.Trigger(context.Background()) {
		t.Error("Trigger() = false after the previous run finished")
	}
	waitRun(t, runner)
}

func TestStartStop(t *testing.T) {
	runner := newFakeRunner()
	s := New(&memMarker{}, runner,
		WithInterval(10*time.Millisecond),
		WithRunOnStart(true),
		WithClock(func() time.Time { return sunday }),
	)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // no second loop

	// run on start plus at least one tick
	waitRun(t, runner)
	waitRun(t, runner)

	s.Stop()
	s.Stop()

	after := runner.count()
	time.Sleep(50 * time.Millisecond)
	if runner.count() != after {
		t.Errorf("runs continued after Stop: %d -> %d", after, runner.count())
	}
}

func TestWithInterval_IgnoresNonPositive(t *testing.T) {
	s := New(&memMarker{}, newFakeRunner(), WithInterval(0))
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
}
