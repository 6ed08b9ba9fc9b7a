package browser

import (
	"context"
)

// CombineContext returns a context derived from primary that is also
// cancelled when secondary is done. Values come from primary only, which
// matters for chromedp: the session context carries the CDP target while the
// caller's context carries the deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
