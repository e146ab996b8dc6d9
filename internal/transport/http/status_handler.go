package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "devharvest/internal/errors"
	"devharvest/internal/operations"
)

// StatusSource reports the current pipeline run
type StatusSource interface {
	Current() (*operations.Response, error)
}

// StatusHandler serves GET /status
type StatusHandler struct {
	source StatusSource
	logger *slog.Logger
}

// NewStatusHandler creates a status handler
func NewStatusHandler(source StatusSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		source: source,
		logger: logger.With(slog.String("handler", "status")),
	}
}

// ServeHTTP renders the run snapshot
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.source.Current()
	if err != nil {
		if errors.Is(err, operations.ErrNoRun) {
			_ = render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrRunNotStarted))
			return
		}
		h.logger.ErrorContext(r.Context(), "status_lookup_failed", slog.String("error", err.Error()))
		_ = render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrInternalServer))
		return
	}
	render.JSON(w, r, resp)
}
