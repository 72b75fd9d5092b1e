package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phrazzld/sendnforget/internal/api/middleware"
	"github.com/phrazzld/sendnforget/internal/api/shared"
)

// corsMaxAge is how long browsers may cache a preflight response, in seconds.
const corsMaxAge = 300

func newBaseRouter(logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// NewNotifyRouter builds the dispatcher's router. Only allowedOrigins may
// submit from a browser.
func NewNotifyRouter(handler *NotifyHandler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := newBaseRouter(logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{shared.TraceIDHeader},
			MaxAge:         corsMaxAge,
		}))
		r.Post("/notify", handler.Notify)
	})

	return r
}

// NewStatusRouter builds the worker's status router. Any origin may read.
func NewStatusRouter(handler *JobsHandler, logger *slog.Logger) http.Handler {
	r := newBaseRouter(logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         corsMaxAge,
		}))
		r.Get("/jobs", handler.List)
		r.Get("/jobs/{id}", handler.Get)
	})

	return r
}
