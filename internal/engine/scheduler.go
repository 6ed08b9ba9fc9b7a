package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/observability"
)

var (
	// ErrTimeout is returned by Await when the caller's wait elapses. The job
	// itself keeps running.
	ErrTimeout = errors.New("timed out waiting for job result")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned for jobs submitted to, or still queued in, a
	// scheduler that is not running.
	ErrStopped = errors.New("scheduler is not accepting jobs")
	// ErrJobPanicked wraps a panic recovered from a job.
	ErrJobPanicked = errors.New("job panicked")
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomePanic   = "panic"
	outcomeAborted = "aborted"
)

// Job is a unit of work run on a scheduler worker. ctx lives as long as the
// scheduler; it is not tied to whoever submitted the job.
type Job[T any] func(ctx context.Context) (T, error)

type jobIDKey struct{}

// JobID returns the ID of the job running with ctx, or "".
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

type task struct {
	id       string
	name     string
	enqueued time.Time

	run       func(ctx context.Context) (outcome string, err error)
	abort     func(err error)
	abandoned func() bool
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Workers    int
	Busy       int
	QueueDepth int
	QueueSize  int
}

// Scheduler runs jobs on a fixed number of workers in FIFO admission order.
type Scheduler struct {
	logger  *zap.Logger
	workers int
	queue   chan *task
	busy    atomic.Int64
	wg      sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	// stateLock guards admission so Submit never sends on a closed queue.
	stateLock sync.Mutex
	isRunning bool
	stopping  atomic.Bool
}

// New creates a scheduler with the given number of workers and queue slots.
func New(workers, queueSize int, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("queue size must be positive, got %d", queueSize)
	}
	return &Scheduler{
		logger:  logger.With(zap.String("component", "scheduler")),
		workers: workers,
		queue:   make(chan *task, queueSize),
	}, nil
}

// Start launches the workers. Jobs run with a context derived from ctx, so
// cancelling ctx (or calling Stop) is the only way a job observes
// cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.isRunning || s.stopping.Load() {
		s.logger.Warn("Scheduler.Start called, but scheduler is already running or stopped.")
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("Starting scheduler worker pool.", zap.Int("workers", s.workers), zap.Int("queue_size", cap(s.queue)))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(i + 1)
	}
}

// Stop closes admission and lets in-flight jobs finish. Jobs still queued
// are completed with ErrStopped. If ctx expires first, the job context is
// cancelled and Stop returns without waiting further.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stateLock.Lock()
	if !s.isRunning {
		s.stateLock.Unlock()
		return nil
	}
	s.isRunning = false
	s.stopping.Store(true)
	close(s.queue)
	s.stateLock.Unlock()

	s.logger.Info("Stopping scheduler... waiting for in-flight jobs.")
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Scheduler stopped gracefully.")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Scheduler stop deadline reached; cancelled running jobs.", zap.Int64("busy", s.busy.Load()))
		return ctx.Err()
	}
}

// Stats reports current occupancy.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Workers:    s.workers,
		Busy:       int(s.busy.Load()),
		QueueDepth: len(s.queue),
		QueueSize:  cap(s.queue),
	}
}

// Submit queues job and returns a future for its result. It never blocks:
// a full queue is reported as ErrQueueFull.
func Submit[T any](s *Scheduler, name string, job Job[T]) (*Future[T], error) {
	f := &Future[T]{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
	var zero T

	t := &task{
		id:        f.id,
		name:      name,
		abandoned: f.abandoned.Load,
		abort:     func(err error) { f.complete(zero, err) },
	}
	t.run = func(ctx context.Context) (outcome string, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Job panicked.",
					zap.String("job_id", t.id),
					zap.String("job", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				outcome, err = outcomePanic, fmt.Errorf("%w: %v", ErrJobPanicked, r)
				f.complete(zero, err)
			}
		}()
		v, err := job(ctx)
		f.complete(v, err)
		if err != nil {
			return outcomeError, err
		}
		return outcomeOK, nil
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if !s.isRunning {
		return nil, ErrStopped
	}
	t.enqueued = time.Now()
	select {
	case s.queue <- t:
	default:
		return nil, ErrQueueFull
	}
	observability.RecordJobSubmitted(name)
	observability.SetQueueDepth(len(s.queue))
	return f, nil
}

func (s *Scheduler) runWorker(workerID int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started.")

	// The queue is closed by Stop; range drains whatever is left.
	for t := range s.queue {
		observability.SetQueueDepth(len(s.queue))
		if s.stopping.Load() {
			t.abort(ErrStopped)
			observability.RecordJobCompleted(t.name, outcomeAborted, 0)
			continue
		}
		s.execute(t, logger)
	}
	logger.Debug("Task queue closed and drained, worker shutting down.")
}

func (s *Scheduler) execute(t *task, logger *zap.Logger) {
	s.busy.Add(1)
	observability.AddBusyWorkers(1)
	defer func() {
		s.busy.Add(-1)
		observability.AddBusyWorkers(-1)
	}()

	logger = logger.With(zap.String("job_id", t.id), zap.String("job", t.name))
	logger.Debug("Job started.", zap.Duration("queued_for", time.Since(t.enqueued)))

	ctx := context.WithValue(s.baseCtx, jobIDKey{}, t.id)
	ctx, span := observability.StartSpan(ctx, "job."+t.name)
	span.SetAttributes(observability.AttrJobID.String(t.id), observability.AttrJobName.String(t.name))
	defer span.End()

	start := time.Now()
	outcome, err := t.run(ctx)
	took := time.Since(start)
	observability.RecordJobCompleted(t.name, outcome, took)
	observability.RecordError(ctx, err)

	if t.abandoned() {
		logger.Warn("Job finished after its caller stopped waiting.", zap.String("outcome", outcome), zap.Duration("took", took), zap.Error(err))
		return
	}
	if err != nil {
		logger.Info("Job failed.", zap.String("outcome", outcome), zap.Duration("took", took), zap.Error(err))
		return
	}
	logger.Debug("Job finished.", zap.Duration("took", took))
}
