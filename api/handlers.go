/*
handlers.go - HTTP handlers for the loyalty engine

PURPOSE:
  Exposes the engine via REST. Handlers parse the request, delegate to
  the engine, and serialize the result - no business rules live here.

ERROR HANDLING:
  Engine error kinds map to status codes:
  - 400: invalid amount / malformed input
  - 402: insufficient cashback
  - 403: membership inactive
  - 404: member not found
  - 409: nothing to undo
  - 503: store unavailable
  Everything else is a 500.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian/loyalty-engine/loyalty"
)

// Handler holds the handlers' single dependency: the engine.
type Handler struct {
	Engine *loyalty.Engine
}

// NewHandler creates a handler over the engine.
func NewHandler(engine *loyalty.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// RegisterMember creates a member.
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	m, err := h.Engine.RegisterMember(r.Context(), req.Name, req.Phone)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(*m, false))
}

// ListMembers returns all members with their current active flag.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Engine.ListMembers(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := h.Engine.Calendar().Now()
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		active := m.MembershipEndAt != nil && !h.Engine.Calendar().EndOfDay(*m.MembershipEndAt).Before(now)
		dtos[i] = toMemberDTO(m, active)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns one member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	m, err := h.Engine.GetMember(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	active, err := h.Engine.IsActive(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m, active))
}

// ArchiveMember marks a member archived.
func (h *Handler) ArchiveMember(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))
	if err := h.Engine.ArchiveMember(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE / LEDGER HANDLERS
// =============================================================================

// GetBalance returns the member's usable and pending cashback as of now.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))
	asOf := h.Engine.Calendar().Now()

	snap, err := h.Engine.Balance(r.Context(), id, asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		MemberID: string(id),
		AsOf:     asOf.Format(time.RFC3339),
		Usable:   snap.Usable.String(),
		Pending:  snap.Pending.String(),
	})
}

// GetLedger returns the member's cashback ledger history.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	if _, err := h.Engine.GetMember(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	entries, err := h.Engine.Ledger().Entries(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// PostPurchase processes one sale for the member.
func (h *Handler) PostPurchase(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	var req PostPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total", err)
		return
	}
	cashbackToUse := decimal.Zero
	if req.CashbackToUse != "" {
		if cashbackToUse, err = decimal.NewFromString(req.CashbackToUse); err != nil {
			writeError(w, http.StatusBadRequest, "invalid cashback_to_use", err)
			return
		}
	}
	at := h.Engine.Calendar().Now()
	if req.At != "" {
		if at, err = time.Parse(time.RFC3339, req.At); err != nil {
			writeError(w, http.StatusBadRequest, "invalid at (use RFC3339)", err)
			return
		}
	}

	purchase, err := h.Engine.PostPurchase(r.Context(), id, total, cashbackToUse, at)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(*purchase))
}

// ListPurchases returns the member's purchase history.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	if _, err := h.Engine.GetMember(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	purchases, err := h.Engine.Purchases(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]PurchaseDTO, len(purchases))
	for i, p := range purchases {
		dtos[i] = toPurchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MEMBERSHIP HANDLERS
// =============================================================================

// PayMembership records a fee payment.
func (h *Handler) PayMembership(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	var req PayMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}
	paidAt := h.Engine.Calendar().Now()
	if req.PaidAt != "" {
		if paidAt, err = time.Parse(time.RFC3339, req.PaidAt); err != nil {
			writeError(w, http.StatusBadRequest, "invalid paid_at (use RFC3339)", err)
			return
		}
	}

	payment, err := h.Engine.Pay(r.Context(), id, amount, paidAt)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*payment))
}

// UndoLastPayment reverses the member's most recent fee payment.
func (h *Handler) UndoLastPayment(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	payment, err := h.Engine.UndoLastPayment(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// ListPayments returns the member's renewal history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := loyalty.MemberID(chi.URLParam(r, "id"))

	if _, err := h.Engine.GetMember(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	payments, err := h.Engine.Payments(r.Context(), id, 0)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]MembershipPaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error kinds to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loyalty.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "member not found", err)
	case errors.Is(err, loyalty.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid amount", err)
	case errors.Is(err, loyalty.ErrMembershipInactive):
		writeError(w, http.StatusForbidden, "membership inactive", err)
	case errors.Is(err, loyalty.ErrInsufficientCashback):
		writeError(w, http.StatusPaymentRequired, "insufficient cashback", err)
	case errors.Is(err, loyalty.ErrNoPaymentToUndo):
		writeError(w, http.StatusConflict, "no payment to undo", err)
	case errors.Is(err, loyalty.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
