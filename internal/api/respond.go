package api

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/engine"
	"github.com/xkilldash9x/carlot/internal/scraper"
)

// Client-facing messages. Existing clients match on the 404 and 504 texts.
const (
	msgNotFound   = "Данные не найдены"
	msgTimeout    = "Сайт не отвечает"
	msgOverloaded = "Сервис перегружен, повторите запрос позже"
	msgRateLimit  = "Слишком много запросов"
)

// responseJSON writes UTF-8 as is and leaves <, > and & unescaped.
var responseJSON = jsoniter.Config{
	EscapeHTML:    false,
	SortMapKeys:   true,
	IndentionStep: 2,
}.Froze()

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type listResponse struct {
	Success  bool             `json:"success"`
	Count    int              `json:"count"`
	PageInfo scraper.PageInfo `json:"page_info"`
	Cars     []scraper.Car    `json:"cars"`
}

type filtersResponse struct {
	Success bool                   `json:"success"`
	Count   int                    `json:"count"`
	Filters *scraper.FilterOptions `json:"filters"`
}

type modelsResponse struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Models  []string `json:"models"`
}

type gensResponse struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Gens    []string `json:"gens"`
}

type carResponse struct {
	Success bool                `json:"success"`
	Car     *scraper.CarDetails `json:"car"`
}

// statusFor maps a job outcome to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scraper.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout, msgTimeout
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrStopped), errors.Is(err, browser.ErrPoolClosed):
		return http.StatusServiceUnavailable, msgOverloaded
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *Handlers) respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	body, err := responseJSON.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to encode response.", zap.Error(err))
		statusCode = http.StatusInternalServerError
		body = []byte(`{"success": false, "error": "failed to encode response"}`)
	}
	h.respondWithBody(w, statusCode, body)
}

func (h *Handlers) respondWithBody(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("Failed to write response.", zap.Error(err))
	}
}

// respondWithError writes the error envelope for err. Nothing is written
// when the client has already gone away.
func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil && errors.Is(err, context.Canceled) {
		h.logger.Debug("Client went away before the result was ready.", zap.String("path", r.URL.Path))
		return
	}
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed.", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Info("Request failed.", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	h.respondWithJSON(w, status, errorResponse{Success: false, Error: msg})
}
