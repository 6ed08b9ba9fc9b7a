package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/carlot/internal/browser"
)

const preloaderSelector = "div.big_preloader"

// readyGrace is added to the in-page deadline for the Go-side bound, so the
// page's own timeout normally fires first.
const readyGrace = 5 * time.Second

// Readiness describes one "page finished rendering" signal: the preloader
// element, the attribute whose mutations are observed, and a JavaScript
// predicate over `loader` that holds once the page is ready.
type Readiness struct {
	Name      string
	Selector  string
	Attribute string
	Predicate string
}

var (
	// StyleHidden is used on the search page: the preloader fades out via
	// inline opacity.
	StyleHidden = Readiness{
		Name:      "style_hidden",
		Selector:  preloaderSelector,
		Attribute: "style",
		Predicate: "loader.style.opacity === '0'",
	}
	// ClassHidden is used on detail pages: the preloader gets the hide class.
	ClassHidden = Readiness{
		Name:      "class_hidden",
		Selector:  preloaderSelector,
		Attribute: "class",
		Predicate: "loader.classList.contains('hide')",
	}
)

func (r Readiness) script(timeout time.Duration) string {
	return call(fmt.Sprintf(readyTemplate, r.Predicate), timeout.Milliseconds(), r.Selector, r.Attribute)
}

// WaitReady blocks until the page satisfies r or timeout elapses. The wait
// runs inside the page on a MutationObserver, so nothing polls. A missing
// preloader counts as ready. Both an elapsed deadline and a failing script
// are reported as ErrPageTimeout.
func WaitReady(ctx context.Context, sess browser.Session, r Readiness, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout+readyGrace)
	defer cancel()

	var ready bool
	if err := sess.EvaluateAsync(waitCtx, r.script(timeout), &ready); err != nil {
		return fmt.Errorf("%w: %s wait failed: %w", ErrPageTimeout, r.Name, err)
	}
	if !ready {
		return fmt.Errorf("%w: loader did not disappear within %s", ErrPageTimeout, timeout)
	}
	return nil
}
