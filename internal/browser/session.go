package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrScript marks an exception thrown by page script, as opposed to a
// transport or browser failure.
var ErrScript = errors.New("page script failed")

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is one isolated browser instance with a single page. A session is
// used by one job at a time; the pool enforces that.
type Session interface {
	ID() string
	// Navigate loads url and returns once the load event fires.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the page and decodes its result into res.
	Evaluate(ctx context.Context, script string, res any) error
	// EvaluateAsync is Evaluate for scripts that return a Promise; the
	// settled value is decoded into res.
	EvaluateAsync(ctx context.Context, script string, res any) error
	// CurrentURL is the last URL passed to Navigate.
	CurrentURL() string
	Close(ctx context.Context) error
}

type chromeSession struct {
	id     string
	logger *zap.Logger

	// ctx carries the CDP target; it lives as long as the session.
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu     sync.Mutex
	url    string
	closed bool
}

var _ Session = (*chromeSession)(nil)

func (s *chromeSession) ID() string { return s.id }

func (s *chromeSession) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *chromeSession) Evaluate(ctx context.Context, script string, res any) error {
	return s.evaluate(ctx, chromedp.Evaluate(script, res))
}

func (s *chromeSession) EvaluateAsync(ctx context.Context, script string, res any) error {
	return s.evaluate(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

func (s *chromeSession) evaluate(ctx context.Context, action chromedp.Action) error {
	err := s.run(ctx, action)
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return fmt.Errorf("%w: %s", ErrScript, exc.Error())
	}
	return err
}

// run executes actions on the session's tab, bounded by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// Report the caller's deadline rather than the derived cancellation.
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// Close shuts the browser down gracefully, falling back to killing the
// process when ctx expires first. It is safe to call more than once.
func (s *chromeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("graceful close timed out: %w", ctx.Err())
	}
	s.cancel()
	s.allocCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Browser session did not close cleanly.", zap.String("session_id", s.id), zap.Error(err))
		return err
	}
	s.logger.Debug("Browser session closed.", zap.String("session_id", s.id))
	return nil
}

// closeWithTimeout bounds teardown when the pool closes a session in the background.
func closeWithTimeout(s Session, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Close(ctx)
}
