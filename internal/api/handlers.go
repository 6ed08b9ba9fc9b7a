// Package api serves the car catalogue over HTTP. Every request becomes one
// scheduler job; the filter endpoints are additionally served from a cache.
package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/carlot/internal/observability"
	"github.com/xkilldash9x/carlot/internal/scraper"
	"github.com/xkilldash9x/carlot/internal/service"
)

const defaultPageNum = "1"

// CarService is the job-running layer behind the handlers.
type CarService interface {
	ListCars(ctx context.Context, filters scraper.Filters, orderBy, pageNum string) (*scraper.CarList, error)
	CarDetails(ctx context.Context, carID string) (*scraper.CarDetails, error)
	Filters(ctx context.Context) (*scraper.FilterOptions, error)
	BrandModels(ctx context.Context, brand string) ([]string, error)
	ModelGens(ctx context.Context, brand, model string) ([]string, error)
}

// statsReporter is implemented by service.CarService.
type statsReporter interface {
	Stats() service.Stats
}

// Handlers manages the HTTP request handling for the API server.
type Handlers struct {
	logger  *zap.Logger
	service CarService
	cache   ResponseCache
	flight  singleflight.Group
}

// NewHandlers creates a new Handlers instance. cache may be nil, in which
// case the filter endpoints always run a job.
func NewHandlers(logger *zap.Logger, svc CarService, cache ResponseCache) *Handlers {
	return &Handlers{
		logger:  logger.Named("api_handlers"),
		service: svc,
		cache:   cache,
	}
}

// RegisterRoutes mounts the catalogue and health endpoints on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1/cars", func(r chi.Router) {
		r.Get("/", h.HandleListCars)
		r.Get("/filters", h.HandleFilters)
		r.Get("/filters/models", h.HandleBrandModels)
		r.Get("/filters/gens", h.HandleModelGens)
		r.Get("/{id}", h.HandleCarDetails)
	})
}

type healthResponse struct {
	Status    string          `json:"status"`
	Pool      *poolHealth     `json:"pool,omitempty"`
	Scheduler *schedulerStats `json:"scheduler,omitempty"`
}

type poolHealth struct {
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Created int `json:"created"`
}

type schedulerStats struct {
	Workers    int `json:"workers"`
	Busy       int `json:"busy"`
	QueueDepth int `json:"queue_depth"`
	QueueSize  int `json:"queue_size"`
}

// HandleHealthCheck reports pool and scheduler occupancy when the service exposes it.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if sr, ok := h.service.(statsReporter); ok {
		st := sr.Stats()
		resp.Pool = &poolHealth{Idle: st.Pool.Idle, InUse: st.Pool.InUse, Created: st.Pool.Created}
		resp.Scheduler = &schedulerStats{
			Workers:    st.Scheduler.Workers,
			Busy:       st.Scheduler.Busy,
			QueueDepth: st.Scheduler.QueueDepth,
			QueueSize:  st.Scheduler.QueueSize,
		}
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// HandleListCars runs the listing protocol for the requested filters, sort and page.
func (h *Handlers) HandleListCars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageNum := strings.TrimSpace(q.Get("page_num"))
	if pageNum == "" {
		pageNum = defaultPageNum
	}

	list, err := h.service.ListCars(r.Context(), scraper.FiltersFromQuery(q), strings.TrimSpace(q.Get("order_by")), pageNum)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, listResponse{
		Success:  true,
		Count:    len(list.Cars),
		PageInfo: list.PageInfo,
		Cars:     list.Cars,
	})
}

// HandleCarDetails scrapes the detail page named by the id path parameter.
func (h *Handlers) HandleCarDetails(w http.ResponseWriter, r *http.Request) {
	carID := strings.TrimSpace(chi.URLParam(r, "id"))
	if carID == "" {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "missing car id"})
		return
	}

	car, err := h.service.CarDetails(r.Context(), carID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, carResponse{Success: true, Car: car})
}

// HandleFilters serves the search form options, cached per cache TTL.
func (h *Handlers) HandleFilters(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "filters", url.Values{}, func(ctx context.Context) (any, error) {
		opts, err := h.service.Filters(ctx)
		if err != nil {
			return nil, err
		}
		return filtersResponse{Success: true, Count: opts.Groups(), Filters: opts}, nil
	})
}

// HandleBrandModels serves the models of the brand query parameter.
func (h *Handlers) HandleBrandModels(w http.ResponseWriter, r *http.Request) {
	brand := strings.TrimSpace(r.URL.Query().Get("brand"))
	if brand == "" {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "missing brand parameter"})
		return
	}
	h.serveCached(w, r, "models", url.Values{"brand": {brand}}, func(ctx context.Context) (any, error) {
		models, err := h.service.BrandModels(ctx, brand)
		if err != nil {
			return nil, err
		}
		return modelsResponse{Success: true, Count: len(models), Models: models}, nil
	})
}

// HandleModelGens serves the generations of the brand and model query parameters.
func (h *Handlers) HandleModelGens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brand, model := strings.TrimSpace(q.Get("brand")), strings.TrimSpace(q.Get("model"))
	if brand == "" || model == "" {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "missing brand or model parameter"})
		return
	}
	h.serveCached(w, r, "gens", url.Values{"brand": {brand}, "model": {model}}, func(ctx context.Context) (any, error) {
		gens, err := h.service.ModelGens(ctx, brand, model)
		if err != nil {
			return nil, err
		}
		return gensResponse{Success: true, Count: len(gens), Gens: gens}, nil
	})
}

// serveCached answers from the response cache, or runs fetch once for all
// concurrent identical requests and caches the encoded body on success.
// Errors are never cached.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, endpoint string, params url.Values, fetch func(context.Context) (any, error)) {
	key := endpoint + "?" + params.Encode()

	if h.cache != nil {
		body, ok, err := h.cache.Get(r.Context(), key)
		if err != nil {
			h.logger.Warn("Response cache lookup failed, treating as a miss.", zap.String("key", key), zap.Error(err))
		}
		observability.RecordCacheLookup(ok)
		if ok {
			h.respondWithBody(w, http.StatusOK, body)
			return
		}
	}

	// The shared call outlives any single caller; each caller still gets the
	// service's own timeout applied inside fetch.
	shared := context.WithoutCancel(r.Context())
	ch := h.flight.DoChan(key, func() (any, error) {
		payload, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		body, err := responseJSON.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if h.cache != nil {
			if err := h.cache.Set(shared, key, body); err != nil {
				h.logger.Warn("Failed to store response in cache.", zap.String("key", key), zap.Error(err))
			}
		}
		return body, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			h.respondWithError(w, r, res.Err)
			return
		}
		h.respondWithBody(w, http.StatusOK, res.Val.([]byte))
	case <-r.Context().Done():
		h.logger.Debug("Client went away while waiting for a shared result.", zap.String("key", key))
	}
}
