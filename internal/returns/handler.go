package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the read/update/delete side of the return ledger plus the
// sale state reconstruction views. The orchestrated entry points (create,
// process) are mounted by the reconciliation handler.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/returns", h.listReturns)
	r.Get("/returns/{id}", h.getReturn)
	r.Put("/returns/{id}", h.updateReturn)
	r.Delete("/returns/{id}", h.deleteReturn)
	r.Get("/sales/{saleID}/state", h.saleState)
	r.Get("/sales/{saleID}/state/before/{returnID}", h.saleStateBefore)
	r.Get("/sales/{saleID}/state/after/{returnID}", h.saleStateAfter)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id")
		return
	}
	ret, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	items, total, err := h.service.ListReturns(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	page := req.Offset/max(req.Limit, 1) + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"returns":    items,
		"pagination": shared.NewPagination(page, req.Limit, total),
	})
}

func (h *Handler) updateReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id")
		return
	}
	var req UpdateReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	ret, err := h.service.UpdateReturn(r.Context(), id, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) deleteReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id")
		return
	}
	if err := h.service.DeleteReturn(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saleState(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	state, err := h.service.SaleStateCurrent(r.Context(), saleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) saleStateBefore(w http.ResponseWriter, r *http.Request) {
	saleID, returnID, ok := saleStateParams(w, r)
	if !ok {
		return
	}
	state, err := h.service.SaleStateBeforeReturn(r.Context(), saleID, returnID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) saleStateAfter(w http.ResponseWriter, r *http.Request) {
	saleID, returnID, ok := saleStateParams(w, r)
	if !ok {
		return
	}
	state, err := h.service.SaleStateAfterReturn(r.Context(), saleID, returnID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func saleStateParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return 0, 0, false
	}
	returnID, err := strconv.ParseInt(chi.URLParam(r, "returnID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id")
		return 0, 0, false
	}
	return saleID, returnID, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	RespondError(w, err)
	if status := statusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("return handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

// RespondError maps return ledger errors to problem-detail responses.
func RespondError(w http.ResponseWriter, err error) {
	httpx.Problem(w, statusFor(err), http.StatusText(statusFor(err)), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrSaleItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrReturnDateInFuture):
		return http.StatusBadRequest
	case errors.Is(err, ErrSaleCancelled), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrReturnImmutable), errors.Is(err, ErrIntentNotPending):
		return http.StatusConflict
	case errors.Is(err, ErrQuantityExceedsAvailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseListRequest(r *http.Request) (ListReturnsRequest, error) {
	q := r.URL.Query()
	var req ListReturnsRequest
	if v := q.Get("sale_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("invalid sale_id")
		}
		req.SaleID = &id
	}
	if v := q.Get("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("invalid customer_id")
		}
		req.CustomerID = &id
	}
	if v := q.Get("status"); v != "" {
		status := ReturnStatus(v)
		req.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("invalid limit")
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("invalid offset")
		}
		req.Offset = n
	}
	return req, nil
}
