// Package api wires the batchrun HTTP routes and middleware.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/batchrun/internal/api/middleware"
	"github.com/kiranshivaraju/batchrun/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil RateLimit disables rate limiting; nil handlers answer 501.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler  http.Handler
	MetricsHandler http.Handler

	SubmitHandler  http.HandlerFunc
	ListHandler    http.HandlerFunc
	StatusHandler  http.HandlerFunc
	ResultsHandler http.HandlerFunc
	ErrorsHandler  http.HandlerFunc
	CancelHandler  http.HandlerFunc
	PurgeHandler   http.HandlerFunc

	HistoryListHandler http.HandlerFunc
	HistoryGetHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.CodeInvalidRequest, "Method not allowed", nil)
	})

	r.Get("/api/v1/health", orNotImplemented(handlerFunc(deps.HealthHandler)))
	r.Get("/metrics", orNotImplemented(handlerFunc(deps.MetricsHandler)))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.StatusHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.PurgeHandler))
		r.Get("/api/v1/jobs/{jobID}/results", orNotImplemented(deps.ResultsHandler))
		r.Get("/api/v1/jobs/{jobID}/errors", orNotImplemented(deps.ErrorsHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelHandler))

		r.Get("/api/v1/history", orNotImplemented(deps.HistoryListHandler))
		r.Get("/api/v1/history/{jobID}", orNotImplemented(deps.HistoryGetHandler))
	})

	return r
}

func handlerFunc(h http.Handler) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return h.ServeHTTP
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not enabled", nil)
	}
}
