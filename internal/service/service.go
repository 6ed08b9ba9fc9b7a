// Package service turns each API operation into a scheduler job that checks a
// browser session out of the pool, runs the page protocol on it and always
// checks it back in.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/engine"
	"github.com/xkilldash9x/carlot/internal/scraper"
)

// Job names, used as metric labels and span names.
const (
	JobListCars    = "list_cars"
	JobCarDetails  = "car_details"
	JobFilters     = "filters"
	JobBrandModels = "brand_models"
	JobModelGens   = "model_gens"
)

// SessionPool is the part of browser.Pool the service uses.
type SessionPool interface {
	Acquire(ctx context.Context) (browser.Session, error)
	Release(s browser.Session)
	Stats() browser.PoolStats
}

// Protocol is the page interaction layer; scraper.Scraper implements it.
type Protocol interface {
	ListCars(ctx context.Context, sess browser.Session, filters scraper.Filters, orderBy, pageNum string) (*scraper.CarList, error)
	CarDetails(ctx context.Context, sess browser.Session, carID string) (*scraper.CarDetails, error)
	Filters(ctx context.Context, sess browser.Session) (*scraper.FilterOptions, error)
	BrandModels(ctx context.Context, sess browser.Session, brand string) ([]string, error)
	ModelGens(ctx context.Context, sess browser.Session, brand, model string) ([]string, error)
}

// Stats combines pool and scheduler occupancy for health reporting.
type Stats struct {
	Pool      browser.PoolStats
	Scheduler engine.Stats
}

// CarService runs scrape operations on the scheduler.
type CarService struct {
	pool     SessionPool
	sched    *engine.Scheduler
	protocol Protocol
	timeout  time.Duration
	logger   *zap.Logger
}

// New wires a service. timeout bounds how long a caller waits for a job,
// not how long the job runs.
func New(pool SessionPool, sched *engine.Scheduler, protocol Protocol, timeout time.Duration, logger *zap.Logger) (*CarService, error) {
	if pool == nil || sched == nil || protocol == nil {
		return nil, errors.New("service requires a pool, a scheduler and a protocol")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &CarService{
		pool:     pool,
		sched:    sched,
		protocol: protocol,
		timeout:  timeout,
		logger:   logger.Named("service"),
	}, nil
}

// ListCars scrapes one page of search results for the given filters and sort.
func (s *CarService) ListCars(ctx context.Context, filters scraper.Filters, orderBy, pageNum string) (*scraper.CarList, error) {
	return run(ctx, s, JobListCars, func(jobCtx context.Context, sess browser.Session) (*scraper.CarList, error) {
		return s.protocol.ListCars(jobCtx, sess, filters, orderBy, pageNum)
	})
}

// CarDetails scrapes the detail page of one listing.
func (s *CarService) CarDetails(ctx context.Context, carID string) (*scraper.CarDetails, error) {
	return run(ctx, s, JobCarDetails, func(jobCtx context.Context, sess browser.Session) (*scraper.CarDetails, error) {
		return s.protocol.CarDetails(jobCtx, sess, carID)
	})
}

// Filters reads the option lists of the search form.
func (s *CarService) Filters(ctx context.Context) (*scraper.FilterOptions, error) {
	return run(ctx, s, JobFilters, func(jobCtx context.Context, sess browser.Session) (*scraper.FilterOptions, error) {
		return s.protocol.Filters(jobCtx, sess)
	})
}

// BrandModels lists the models the search form offers for brand.
func (s *CarService) BrandModels(ctx context.Context, brand string) ([]string, error) {
	return run(ctx, s, JobBrandModels, func(jobCtx context.Context, sess browser.Session) ([]string, error) {
		return s.protocol.BrandModels(jobCtx, sess, brand)
	})
}

// ModelGens lists the generations the search form offers for brand and model.
func (s *CarService) ModelGens(ctx context.Context, brand, model string) ([]string, error) {
	return run(ctx, s, JobModelGens, func(jobCtx context.Context, sess browser.Session) ([]string, error) {
		return s.protocol.ModelGens(jobCtx, sess, brand, model)
	})
}

// Stats reports pool and scheduler occupancy.
func (s *CarService) Stats() Stats {
	return Stats{Pool: s.pool.Stats(), Scheduler: s.sched.Stats()}
}

// run submits op as a job and waits for it. The session is released on
// every exit path of the job, including panics and results nobody waits
// for anymore.
func run[T any](ctx context.Context, s *CarService, name string, op func(context.Context, browser.Session) (T, error)) (T, error) {
	var zero T
	future, err := engine.Submit(s.sched, name, func(jobCtx context.Context) (T, error) {
		sess, err := s.pool.Acquire(jobCtx)
		if err != nil {
			return zero, err
		}
		defer s.pool.Release(sess)
		return op(jobCtx, sess)
	})
	if err != nil {
		s.logger.Warn("Job rejected.", zap.String("job", name), zap.Error(err))
		return zero, err
	}

	v, err := future.AwaitContext(ctx, s.timeout)
	if errors.Is(err, engine.ErrTimeout) {
		s.logger.Warn("Caller timed out; job continues in the background.",
			zap.String("job", name), zap.String("job_id", future.ID()), zap.Duration("timeout", s.timeout))
	}
	return v, err
}
