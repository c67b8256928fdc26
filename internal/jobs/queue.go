// Package jobs provides a single-worker sequential job queue.
package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New("job queue closed")

// Job is a unit of work run by the queue's worker.
type Job struct {
	ID   uuid.UUID
	Name string
	Run  func(ctx context.Context) error
	// Done, if set, is called with the job's result after it runs.
	Done func(err error)
}

// Stats counts jobs by outcome.
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
}

// Queue runs submitted jobs one at a time, in submission order.
type Queue struct {
	ctx    context.Context
	jobs   chan Job
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// NewQueue starts a queue whose jobs run with ctx. capacity is the number of
// jobs that may wait behind the running one; Submit blocks once it is
// reached. A capacity of zero hands each job directly to the worker.
func NewQueue(ctx context.Context, capacity int, opts ...Option) *Queue {
	q := &Queue{
		ctx:    ctx,
		jobs:   make(chan Job, max(capacity, 0)),
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.work()
	return q
}

// Submit enqueues a job, blocking while the queue is full. It returns the
// job's id, or an error if the queue is closed or ctx is done first.
func (q *Queue) Submit(ctx context.Context, name string, run func(ctx context.Context) error, done func(err error)) (uuid.UUID, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return uuid.Nil, ErrClosed
	}

	job := Job{ID: uuid.New(), Name: name, Run: run, Done: done}
	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		return job.ID, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
// Calling Close more than once is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Stats returns the job counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) work() {
	defer q.wg.Done()

	for job := range q.jobs {
		start := time.Now()
		err := job.Run(q.ctx)
		if err != nil {
			q.failed.Add(1)
			q.logger.Error("job failed", "job", job.Name, "id", job.ID, "err", err)
		} else {
			q.succeeded.Add(1)
			q.logger.Debug("job finished", "job", job.Name, "id", job.ID, "took", time.Since(start))
		}
		if job.Done != nil {
			job.Done(err)
		}
	}
}
