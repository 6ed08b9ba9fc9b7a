package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/carlot/internal/observability"
)

// ErrPoolClosed is returned by Acquire after DrainAll.
var ErrPoolClosed = errors.New("session pool is closed")

const defaultCloseTimeout = 10 * time.Second

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Idle    int
	InUse   int
	Created int
}

// Pool hands out browser sessions. Idle sessions are reused most recently
// released first; when none is idle a new one is launched. The pool never
// blocks waiting for a session and has no upper bound: concurrency is capped
// by the scheduler's worker count, plus any jobs whose callers gave up.
type Pool struct {
	launcher     Launcher
	logger       *zap.Logger
	closeTimeout time.Duration

	mu      sync.Mutex
	idle    []Session
	out     map[string]Session
	created int
	closed  bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCloseTimeout bounds how long a single session may take to shut down.
func WithCloseTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.closeTimeout = d
		}
	}
}

// NewPool creates an empty pool. Sessions are launched lazily.
func NewPool(launcher Launcher, logger *zap.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		launcher:     launcher,
		logger:       logger.Named("pool"),
		closeTimeout: defaultCloseTimeout,
		out:          make(map[string]Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns an idle session or launches a new one. The caller owns the
// session until it hands it back with Release.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.out[s.ID()] = s
		p.publishLocked()
		p.mu.Unlock()
		p.logger.Debug("Reusing idle browser session.", zap.String("session_id", s.ID()))
		return s, nil
	}
	p.mu.Unlock()

	// Launching takes seconds; other callers must not wait on the lock for it.
	s, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser session: %w", err)
	}
	observability.RecordSessionCreated()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeInBackground(s)
		return nil, ErrPoolClosed
	}
	p.created++
	p.out[s.ID()] = s
	p.publishLocked()
	p.mu.Unlock()

	return s, nil
}

// Release returns a session to the pool. It is a no-op for nil and for
// sessions the pool did not hand out. After DrainAll the session is closed
// instead of being pooled.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.out[s.ID()]; !ok {
		p.mu.Unlock()
		p.logger.Warn("Ignoring release of a session that is not checked out.", zap.String("session_id", s.ID()))
		return
	}
	delete(p.out, s.ID())
	if p.closed {
		p.publishLocked()
		p.mu.Unlock()
		p.closeInBackground(s)
		return
	}
	p.idle = append(p.idle, s)
	p.publishLocked()
	p.mu.Unlock()
}

// DrainAll closes every idle session in parallel and stops the pool from
// handing out more. Checked-out sessions are closed as they are released.
func (p *Pool) DrainAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := p.idle
	p.idle = nil
	p.publishLocked()
	p.mu.Unlock()

	if len(sessions) == 0 {
		return nil
	}
	p.logger.Info("Draining browser sessions.", zap.Int("count", len(sessions)))

	// A session that fails to close must not stop the others from closing.
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(ctx, p.closeTimeout)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				return fmt.Errorf("close session %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Idle: len(p.idle), InUse: len(p.out), Created: p.created}
}

func (p *Pool) publishLocked() {
	observability.SetSessionGauges(len(p.idle), len(p.out))
}

func (p *Pool) closeInBackground(s Session) {
	go func() {
		if err := closeWithTimeout(s, p.closeTimeout); err != nil {
			p.logger.Warn("Failed to close browser session.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}()
}
