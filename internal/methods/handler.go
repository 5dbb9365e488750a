package methods

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler serves the payment method catalog.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers payment method routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payment-methods", h.list)
	r.Get("/payment-methods/{code}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list payment methods", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not list payment methods")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payment_methods": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	method, err := h.repo.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("find payment method", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "could not load payment method")
		return
	}
	httpx.JSON(w, http.StatusOK, method)
}
