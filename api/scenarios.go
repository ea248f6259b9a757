/*
scenarios.go - Demo data loaders (development only)

PURPOSE:
  Seeds the store with recognizable member states so the frontend and
  manual testers have something to poke at: a fresh member, an active
  member mid-cycle with cashback in both buckets, and a lapsed member
  with legacy balance.
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/meridian/loyalty-engine/loyalty"
)

// Scenario is one loadable demo state.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []Scenario{
	{
		ID:          "fresh-member",
		Name:        "Fresh member",
		Description: "Registered, never paid a membership fee. Inactive, zero balance.",
	},
	{
		ID:          "active-earner",
		Name:        "Active earner",
		Description: "Paid this month, made cash purchases today up to the daily cap.",
	},
	{
		ID:          "lapsed-with-balance",
		Name:        "Lapsed with balance",
		Description: "Membership expired while usable cashback remains. Spending is blocked.",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the store with the requested demo state.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var err error
	switch req.ID {
	case "fresh-member":
		_, err = h.Engine.RegisterMember(r.Context(), "Sari Wijaya", "+62-811-000-001")
	case "active-earner":
		err = h.loadActiveEarner(r.Context())
	case "lapsed-with-balance":
		err = h.loadLapsedWithBalance(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unknown scenario", nil)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ID})
}

func (h *Handler) loadActiveEarner(ctx context.Context) error {
	m, err := h.Engine.RegisterMember(ctx, "Budi Santoso", "+62-811-000-002")
	if err != nil {
		return err
	}
	now := h.Engine.Calendar().Now()
	if _, err := h.Engine.Pay(ctx, m.ID, loyalty.MoneyFromInt(35000), h.Engine.Calendar().AddDays(now, -10)); err != nil {
		return err
	}
	// Two purchases today: 15k then 30k, reaching the daily cap.
	if _, err := h.Engine.PostPurchase(ctx, m.ID, loyalty.MoneyFromInt(15000), loyalty.ZeroMoney(), now); err != nil {
		return err
	}
	_, err = h.Engine.PostPurchase(ctx, m.ID, loyalty.MoneyFromInt(30000), loyalty.ZeroMoney(), now)
	return err
}

func (h *Handler) loadLapsedWithBalance(ctx context.Context) error {
	m, err := h.Engine.RegisterMember(ctx, "Dewi Lestari", "+62-811-000-003")
	if err != nil {
		return err
	}
	cal := h.Engine.Calendar()
	// Paid ~3 months ago, earned cashback back then, lapsed since.
	paidAt := cal.AddDays(cal.Now(), -90)
	if _, err := h.Engine.Pay(ctx, m.ID, loyalty.MoneyFromInt(35000), paidAt); err != nil {
		return err
	}
	_, err = h.Engine.PostPurchase(ctx, m.ID, loyalty.MoneyFromInt(45000), loyalty.ZeroMoney(), cal.AddDays(paidAt, 1))
	return err
}
