package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/config"
	"github.com/xkilldash9x/carlot/internal/observability"
)

// Script outcomes reported by the filter and sort scripts.
const (
	outcomeApplied         = "applied"
	outcomeAlreadySelected = "already_selected"
	outcomeNoControl       = "no_control"
	outcomeNoOption        = "no_option"
)

// cascadeFields is the dependency chain of the search controls.
var cascadeFields = []string{"brand", "model", "gen"}

// Scraper runs the page interaction sequences against a session it is
// handed. It holds no session state of its own and is safe for concurrent
// use with distinct sessions.
type Scraper struct {
	site   config.SiteConfig
	cfg    config.ScraperConfig
	logger *zap.Logger
}

// New creates a Scraper for the configured site.
func New(site config.SiteConfig, cfg config.ScraperConfig, logger *zap.Logger) *Scraper {
	return &Scraper{site: site, cfg: cfg, logger: logger.Named("scraper")}
}

// ListCars loads the search page, applies filters, submits the search,
// pages forward until pageNum is the active page, optionally sorts, and
// reads the rendered cards.
//
// Paging has no bound unless scraper.max_page_steps is set: a page label
// that never becomes active keeps the loop going, and only the caller's
// wait limit ends the request.
func (s *Scraper) ListCars(ctx context.Context, sess browser.Session, filters Filters, orderBy, pageNum string) (*CarList, error) {
	ctx, span := observability.StartSpan(ctx, "scrape.list_cars",
		trace.WithAttributes(observability.AttrSessionID.String(sess.ID()), observability.AttrPage.String(pageNum)))
	defer span.End()
	logger := s.logger.With(zap.String("session_id", sess.ID()), zap.String("page_num", pageNum))

	if err := s.load(ctx, sess, s.site.SearchPageURL, StyleHidden); err != nil {
		return nil, s.fail(ctx, logger, "load search page", err)
	}
	if err := s.applyFilters(ctx, sess, filters, logger); err != nil {
		return nil, s.fail(ctx, logger, "apply filters", err)
	}
	if err := s.click(ctx, sess, submitScript, "search button"); err != nil {
		return nil, s.fail(ctx, logger, "submit search", err)
	}
	if err := s.waitReady(ctx, sess, StyleHidden); err != nil {
		return nil, s.fail(ctx, logger, "wait for results", err)
	}

	steps, err := s.locatePage(ctx, sess, pageNum, logger)
	span.SetAttributes(observability.AttrSteps.Int(steps))
	if err != nil {
		return nil, s.fail(ctx, logger, "locate page", err)
	}

	if orderBy != "" {
		if err := s.applySort(ctx, sess, orderBy, logger); err != nil {
			return nil, s.fail(ctx, logger, "apply sort", err)
		}
	}

	cars, err := s.extractCars(ctx, sess, logger)
	if err != nil {
		return nil, s.fail(ctx, logger, "read listing cards", err)
	}
	list := &CarList{Cars: cars}
	// The paginator is read again so the response describes the page the
	// cards actually came from.
	info, err := s.pageInfo(ctx, sess)
	if err != nil {
		return nil, s.fail(ctx, logger, "read page info", err)
	}
	list.PageInfo = info
	list.normalize()

	logger.Debug("Listing scraped.", zap.Int("cars", len(list.Cars)), zap.Int("page_steps", steps))
	return list, nil
}

// CarDetails loads a car's detail page and reads every parameter group.
func (s *Scraper) CarDetails(ctx context.Context, sess browser.Session, carID string) (*CarDetails, error) {
	ctx, span := observability.StartSpan(ctx, "scrape.car_details",
		trace.WithAttributes(observability.AttrSessionID.String(sess.ID())))
	defer span.End()
	logger := s.logger.With(zap.String("session_id", sess.ID()), zap.String("car_id", carID))

	if err := s.load(ctx, sess, s.site.CarPageURL+carID, ClassHidden); err != nil {
		return nil, s.fail(ctx, logger, "load car page", err)
	}

	var details CarDetails
	if err := sess.Evaluate(ctx, call(detailsScript, carID), &details); err != nil {
		return nil, s.fail(ctx, logger, "read car details", err)
	}
	details.normalize()
	return &details, nil
}

// Filters loads the search page and lists the options of every control.
func (s *Scraper) Filters(ctx context.Context, sess browser.Session) (*FilterOptions, error) {
	ctx, span := observability.StartSpan(ctx, "scrape.filters",
		trace.WithAttributes(observability.AttrSessionID.String(sess.ID())))
	defer span.End()
	logger := s.logger.With(zap.String("session_id", sess.ID()))

	if err := s.load(ctx, sess, s.site.SearchPageURL, StyleHidden); err != nil {
		return nil, s.fail(ctx, logger, "load search page", err)
	}
	var opts FilterOptions
	if err := sess.Evaluate(ctx, call(filtersScript), &opts); err != nil {
		return nil, s.fail(ctx, logger, "read filters", err)
	}
	opts.normalize()
	return &opts, nil
}

// BrandModels selects brand and lists the models it offers. An unknown
// brand yields an empty list.
func (s *Scraper) BrandModels(ctx context.Context, sess browser.Session, brand string) ([]string, error) {
	return s.cascade(ctx, sess, "scrape.brand_models", brand)
}

// ModelGens selects brand then model and lists the generations offered.
func (s *Scraper) ModelGens(ctx context.Context, sess browser.Session, brand, model string) ([]string, error) {
	return s.cascade(ctx, sess, "scrape.model_gens", brand, model)
}

func (s *Scraper) cascade(ctx context.Context, sess browser.Session, op string, path ...string) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, op,
		trace.WithAttributes(observability.AttrSessionID.String(sess.ID())))
	defer span.End()
	logger := s.logger.With(zap.String("session_id", sess.ID()), zap.Strings("path", path))

	if err := s.load(ctx, sess, s.site.SearchPageURL, StyleHidden); err != nil {
		return nil, s.fail(ctx, logger, "load search page", err)
	}

	var labels []string
	script := call(cascadeScript, cascadeFields, path, s.cfg.FilterSettle.Milliseconds())
	if err := sess.EvaluateAsync(ctx, script, &labels); err != nil {
		return nil, s.fail(ctx, logger, "read cascade options", err)
	}
	if labels == nil {
		labels = []string{}
	}
	return labels, nil
}

func (s *Scraper) load(ctx context.Context, sess browser.Session, url string, r Readiness) error {
	if err := sess.Navigate(ctx, url); err != nil {
		return err
	}
	return s.waitReady(ctx, sess, r)
}

func (s *Scraper) waitReady(ctx context.Context, sess browser.Session, r Readiness) error {
	return WaitReady(ctx, sess, r, s.cfg.ReadyTimeout)
}

// applyFilters applies the active filters one control at a time. Unknown
// controls and labels are skipped.
func (s *Scraper) applyFilters(ctx context.Context, sess browser.Session, filters Filters, logger *zap.Logger) error {
	settle := s.cfg.FilterSettle.Milliseconds()
	for _, f := range filters.Active() {
		var outcome string
		if err := sess.EvaluateAsync(ctx, call(applyFilterScript, f.Key, f.Value, settle), &outcome); err != nil {
			return fmt.Errorf("filter %s: %w", f.Key, err)
		}
		if outcome != outcomeApplied {
			logger.Debug("Filter skipped.", zap.String("filter", f.Key), zap.String("value", f.Value), zap.String("reason", outcome))
		}
	}
	return nil
}

// click runs a script that clicks a required control and reports whether
// it was there.
func (s *Scraper) click(ctx context.Context, sess browser.Session, script, what string) error {
	var found bool
	if err := sess.Evaluate(ctx, call(script), &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

// locatePage advances the paginator until target is the active label and
// returns the number of advances made.
func (s *Scraper) locatePage(ctx context.Context, sess browser.Session, target string, logger *zap.Logger) (int, error) {
	for steps := 0; ; steps++ {
		info, err := s.pageInfo(ctx, sess)
		if err != nil {
			return steps, err
		}
		if info.Current() == target {
			return steps, nil
		}
		if s.cfg.MaxPageSteps > 0 && steps >= s.cfg.MaxPageSteps {
			if !info.Has(target) {
				return steps, fmt.Errorf("%w: page %q not reached after %d steps, last paginator showed %q",
					ErrNotFound, target, steps, info.PagesNums)
			}
			return steps, fmt.Errorf("%w: page %q not reached after %d steps", ErrNotFound, target, steps)
		}
		if err := ctx.Err(); err != nil {
			return steps, err
		}

		logger.Debug("Advancing to next page.", zap.String("current", info.Current()), zap.Int("step", steps+1))
		if err := s.click(ctx, sess, nextPageScript, "next page button"); err != nil {
			return steps, err
		}
		if err := s.waitReady(ctx, sess, StyleHidden); err != nil {
			return steps, err
		}
	}
}

func (s *Scraper) pageInfo(ctx context.Context, sess browser.Session) (PageInfo, error) {
	var info PageInfo
	if err := sess.Evaluate(ctx, call(pageInfoScript), &info); err != nil {
		return PageInfo{}, err
	}
	return info, nil
}

// applySort picks the ordering option and waits for the re-render. A
// missing sort control or option leaves the order unchanged.
func (s *Scraper) applySort(ctx context.Context, sess browser.Session, orderBy string, logger *zap.Logger) error {
	var outcome string
	if err := sess.Evaluate(ctx, call(sortScript, orderBy), &outcome); err != nil {
		return err
	}
	switch outcome {
	case outcomeApplied:
		return s.waitReady(ctx, sess, StyleHidden)
	case outcomeAlreadySelected:
		return nil
	default:
		logger.Debug("Sort skipped.", zap.String("order_by", orderBy), zap.String("reason", outcome))
		return nil
	}
}

// extractCars reads the listing cards. A failing script yields no cars; an
// interrupted job yields its context error instead.
func (s *Scraper) extractCars(ctx context.Context, sess browser.Session, logger *zap.Logger) ([]Car, error) {
	var cars []Car
	if err := sess.Evaluate(ctx, call(listScript), &cars); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error("Failed to parse listing cards.", zap.Error(err))
		observability.RecordError(ctx, err)
		return []Car{}, nil
	}
	kept := cars[:0]
	for _, c := range cars {
		if strings.TrimSpace(c.ID) != "" {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// fail logs a protocol error with its step and returns it wrapped.
func (s *Scraper) fail(ctx context.Context, logger *zap.Logger, step string, err error) error {
	observability.RecordError(ctx, err)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("Required element missing.", zap.String("step", step), zap.Error(err))
	case errors.Is(err, ErrPageTimeout):
		logger.Error("Timeout while waiting for page elements.", zap.String("step", step), zap.Error(err))
	case errors.Is(err, browser.ErrScript):
		logger.Error("Page script error.", zap.String("step", step), zap.Error(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Scrape interrupted.", zap.String("step", step), zap.Error(err))
	default:
		logger.Error("Unexpected error during scraping.", zap.String("step", step), zap.Error(err))
	}
	return fmt.Errorf("%s: %w", step, err)
}
