package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "devharvest/internal/errors"
	"devharvest/internal/middleware"
)

// RouterDeps are the collaborators of the status router
type RouterDeps struct {
	Status  StatusSource
	Metrics http.Handler
	// Events streams run snapshots over a websocket, mounted at /ws
	Events  http.Handler
	Version string
	Logger  *slog.Logger
}

// NewRouter builds the status router
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "status_http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.StructuredLogger(logger))

	// long-lived connections stay out of the request timeout
	if deps.Events != nil {
		r.Method(http.MethodGet, "/ws", deps.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second))

		r.Get("/healthz", healthHandler(deps.Version))

		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics)
		}

		if deps.Status != nil {
			r.Get("/status", NewStatusHandler(deps.Status, logger).ServeHTTP)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, apierrors.NotFoundError(r.URL.Path))
	})
	return r
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"status":    "ok",
			"version":   version,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
