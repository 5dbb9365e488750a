package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the read/update/delete side of the payment ledger. The
// orchestrated entry points (create, refund) are mounted by the
// reconciliation handler.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{id}", h.getPayment)
	r.Put("/payments/{id}", h.updatePayment)
	r.Delete("/payments/{id}", h.deletePayment)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	items, total, err := h.service.ListPayments(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	page := req.Offset/max(req.Limit, 1) + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"payments":   items,
		"pagination": shared.NewPagination(page, req.Limit, total),
	})
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	var req UpdatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	payment, err := h.service.UpdatePayment(r.Context(), id, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	RespondError(w, err)
	if status := statusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("payment handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

// RespondError maps payment ledger errors to problem-detail responses.
func RespondError(w http.ResponseWriter, err error) {
	httpx.Problem(w, statusFor(err), http.StatusText(statusFor(err)), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCustomerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrReferenceRequired):
		return http.StatusBadRequest
	case errors.Is(err, ErrCustomerBlocked):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidPaymentMethod), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrCompletedPayment):
		return http.StatusConflict
	case errors.Is(err, ErrAllocationExceedsAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseListRequest(r *http.Request) (ListPaymentsRequest, error) {
	q := r.URL.Query()
	var req ListPaymentsRequest
	if v := q.Get("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("invalid customer_id")
		}
		req.CustomerID = &id
	}
	if v := q.Get("status"); v != "" {
		status := PaymentStatus(v)
		req.Status = &status
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errors.New("invalid date_from")
		}
		req.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return req, errors.New("invalid date_to")
		}
		req.DateTo = &t
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
