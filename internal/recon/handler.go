package recon

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler serves the orchestrated write endpoints. Reads and plain updates
// are mounted by the ledger handlers; everything that crosses a ledger
// boundary enters here.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
}

// NewHandler builds Handler instance. idempotency may be nil, which
// disables Idempotency-Key handling.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers the orchestrated routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.createPayment)
	r.Post("/payments/{id}/refund", h.refundPayment)
	r.Post("/returns", h.createReturn)
	r.Post("/returns/{id}/process", h.processReturn)
	r.Get("/customers/{customerID}/ledger", h.customerLedger)
}

func (h *Handler) customerLedger(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
		return
	}
	ledger, err := h.service.CustomerLedgerSummary(r.Context(), customerID)
	if err != nil {
		payments.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.CreatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	key, ok := h.claimIdempotency(w, r, "payments")
	if !ok {
		return
	}
	payment, err := h.service.CreatePayment(r.Context(), req, actorID(r))
	if err != nil {
		h.releaseIdempotency(r, key)
		payments.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	var req payments.RefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	refund, err := h.service.RefundPayment(r.Context(), id, req, actorID(r))
	if err != nil {
		payments.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, refund)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req returns.CreateReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	key, ok := h.claimIdempotency(w, r, "returns")
	if !ok {
		return
	}
	ret, err := h.service.CreateReturn(r.Context(), req, actorID(r))
	if err != nil {
		h.releaseIdempotency(r, key)
		returns.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) processReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id")
		return
	}
	var req returns.ProcessReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	ret, err := h.service.ProcessReturn(r.Context(), id, req, actorID(r))
	if err != nil {
		returns.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

// claimIdempotency reserves the request's Idempotency-Key. Requests
// without a key pass through.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idempotency == nil {
		return "", true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Conflict", "request already processed")
			return "", false
		}
		h.logger.Error("idempotency check", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "idempotency check failed")
		return "", false
	}
	return key, true
}

// releaseIdempotency frees the key after a failed create so the client can
// retry with the same one.
func (h *Handler) releaseIdempotency(r *http.Request, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(r.Context(), key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

func actorID(r *http.Request) int64 {
	v := r.Header.Get("X-Actor-ID")
	if v == "" {
		return 0
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
