package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/carlot/internal/observability"
)

// Future is the pending result of a submitted job. It completes exactly once.
type Future[T any] struct {
	id   string
	name string

	done  chan struct{}
	once  sync.Once
	value T
	err   error

	abandoned atomic.Bool
}

// ID is the job ID used in logs and traces.
func (f *Future[T]) ID() string { return f.id }

// Done is closed when the job has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await waits up to timeout for the result. On timeout it returns ErrTimeout
// and the job is left running; a timeout <= 0 waits indefinitely.
func (f *Future[T]) Await(timeout time.Duration) (T, error) {
	return f.AwaitContext(context.Background(), timeout)
}

// AwaitContext is Await that also stops waiting when ctx is done, for
// callers that go away. Neither way of giving up touches the job.
func (f *Future[T]) AwaitContext(ctx context.Context, timeout time.Duration) (T, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case <-f.done:
		return f.value, f.err
	case <-expired:
		f.abandon()
		return zero, fmt.Errorf("%w: job %s (%s) did not finish within %s", ErrTimeout, f.name, f.id, timeout)
	case <-ctx.Done():
		f.abandon()
		return zero, ctx.Err()
	}
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

func (f *Future[T]) abandon() {
	// A result that raced the timer is still delivered, just not waited for.
	select {
	case <-f.done:
		return
	default:
	}
	if f.abandoned.CompareAndSwap(false, true) {
		observability.RecordCallerTimeout(f.name)
	}
}
