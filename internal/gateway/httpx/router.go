package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/order-saga/internal/gateway/httpx/middlewares"
)

// NewRouter mounts the API. metrics is served on /metrics when non-nil.
func NewRouter(handler *Handler, metrics http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middlewares.Trace)
	r.Use(middlewares.AccessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders/{id}", handler.GetOrderByID)

	r.Get("/sagas", handler.ListSagas)
	r.Get("/sagas/{id}", handler.GetSaga)
	r.Get("/sagas/{id}/history", handler.GetSagaHistory)
	return r
}
