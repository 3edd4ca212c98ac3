package web

import (
	"net/http"

	"equipment-ledger/internal/app"
	"equipment-ledger/internal/core"

	"github.com/shopspring/decimal"
)

type openingBalanceRequest struct {
	Opening decimal.Decimal `json:"opening_balance"`
}

func balanceFilter(w http.ResponseWriter, r *http.Request) (core.BalanceFilter, bool) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return core.BalanceFilter{}, false
	}
	kindID, ok := optionalInt(w, r, "equipment_kind_id")
	if !ok {
		return core.BalanceFilter{}, false
	}
	return core.BalanceFilter{LocationID: locationID, EquipmentKindID: kindID}, true
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	filter, ok := balanceFilter(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ListBalances(r.Context(), currentActor(r).Scope, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := h.svc.GetBalance(r.Context(), currentActor(r).Scope, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (h *Handler) netMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	nm, err := h.svc.NetMovement(r.Context(), currentActor(r).Scope, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, nm)
}

func (h *Handler) balanceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}
	result, err := h.svc.BalanceHistory(r.Context(), currentActor(r).Scope, id, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) setOpeningBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req openingBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.svc.SetOpeningBalance(r.Context(), currentActor(r), app.OpeningBalanceRequest{
		BalanceID: id,
		Opening:   req.Opening,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	filter, ok := balanceFilter(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Dashboard(r.Context(), currentActor(r).Scope, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	filter, ok := historyFilter(w, r)
	if !ok {
		return
	}
	if filter.BalanceID, ok = optionalInt(w, r, "balance_id"); !ok {
		return
	}
	result, err := h.svc.AuditLog(r.Context(), currentActor(r).Scope, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, result)
}

// reconcile compares every balance in the ledger, so it needs an all-locations scope.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	if currentActor(r).Scope.Kind != core.ScopeAll {
		writeError(w, r, "reconciliation requires access to all locations", "FORBIDDEN", http.StatusForbidden)
		return
	}
	result, err := h.svc.Reconcile(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, result)
}
