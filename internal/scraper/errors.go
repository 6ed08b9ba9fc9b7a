package scraper

import "errors"

var (
	// ErrNotFound means a control the protocol cannot continue without is
	// missing from the page.
	ErrNotFound = errors.New("required page element not found")
	// ErrPageTimeout means the page never signalled readiness, or the
	// readiness script itself failed.
	ErrPageTimeout = errors.New("page loading timeout")
)
