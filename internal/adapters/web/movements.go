package web

import (
	"context"
	"net/http"
	"strings"

	"equipment-ledger/internal/core"

	"github.com/shopspring/decimal"
)

type submitAcquisitionRequest struct {
	EquipmentKindID int             `json:"equipment_kind_id"`
	LocationID      int             `json:"location_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Supplier        string          `json:"supplier"`
	ReferenceNumber string          `json:"reference_number"`
	Cost            decimal.Decimal `json:"cost"`
	Notes           string          `json:"notes"`
}

type initiateRelocationRequest struct {
	EquipmentKindID int             `json:"equipment_kind_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	FromLocationID  int             `json:"from_location_id"`
	ToLocationID    int             `json:"to_location_id"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
}

type issueEquipmentRequest struct {
	BalanceID   int             `json:"balance_id"`
	PersonnelID int             `json:"personnel_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Notes       string          `json:"notes"`
}

type expendEquipmentRequest struct {
	BalanceID       int             `json:"balance_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Reason          string          `json:"reason"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
}

// transition adapts a state-changing workflow call on {id}.
func transition[T any](h *Handler, fn func(context.Context, core.Actor, int) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		v, err := fn(r.Context(), currentActor(r), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, v)
	}
}

// lookup adapts a scoped read of {id}.
func lookup[T any](h *Handler, fn func(context.Context, core.LocationScope, int) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		v, err := fn(r.Context(), currentActor(r).Scope, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, v)
	}
}

// ── Acquisitions ──────────────────────────────────────────────────────────────

func (h *Handler) listAcquisitions(w http.ResponseWriter, r *http.Request) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return
	}
	list, err := h.svc.ListAcquisitions(r.Context(), currentActor(r).Scope, core.AcquisitionFilter{
		Status:     strings.ToUpper(r.URL.Query().Get("status")),
		LocationID: locationID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"acquisitions": list})
}

func (h *Handler) submitAcquisition(w http.ResponseWriter, r *http.Request) {
	var req submitAcquisitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.svc.SubmitAcquisition(r.Context(), currentActor(r), core.AcquisitionInput{
		EquipmentKindID: req.EquipmentKindID,
		LocationID:      req.LocationID,
		Quantity:        req.Quantity,
		Supplier:        req.Supplier,
		ReferenceNumber: req.ReferenceNumber,
		Cost:            req.Cost,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, a)
}

func (h *Handler) getAcquisition(w http.ResponseWriter, r *http.Request) {
	lookup(h, h.svc.GetAcquisition)(w, r)
}

func (h *Handler) approveAcquisition(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.ApproveAcquisition)(w, r)
}

func (h *Handler) rejectAcquisition(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.RejectAcquisition)(w, r)
}

// ── Relocations ───────────────────────────────────────────────────────────────

func (h *Handler) listRelocations(w http.ResponseWriter, r *http.Request) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return
	}
	list, err := h.svc.ListRelocations(r.Context(), currentActor(r).Scope, core.RelocationFilter{
		Status:     strings.ToUpper(r.URL.Query().Get("status")),
		LocationID: locationID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"relocations": list})
}

func (h *Handler) initiateRelocation(w http.ResponseWriter, r *http.Request) {
	var req initiateRelocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := h.svc.InitiateRelocation(r.Context(), currentActor(r), core.RelocationInput{
		EquipmentKindID: req.EquipmentKindID,
		Quantity:        req.Quantity,
		FromLocationID:  req.FromLocationID,
		ToLocationID:    req.ToLocationID,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, rel)
}

func (h *Handler) getRelocation(w http.ResponseWriter, r *http.Request) {
	lookup(h, h.svc.GetRelocation)(w, r)
}

func (h *Handler) advanceRelocation(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.AdvanceRelocation)(w, r)
}

func (h *Handler) completeRelocation(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.CompleteRelocation)(w, r)
}

func (h *Handler) rejectRelocation(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.RejectRelocation)(w, r)
}

// ── Issuances ─────────────────────────────────────────────────────────────────

func (h *Handler) listIssuances(w http.ResponseWriter, r *http.Request) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return
	}
	personnelID, ok := optionalInt(w, r, "personnel_id")
	if !ok {
		return
	}
	list, err := h.svc.ListIssuances(r.Context(), currentActor(r).Scope, core.IssuanceFilter{
		LocationID:  locationID,
		PersonnelID: personnelID,
		ActiveOnly:  r.URL.Query().Get("active") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"issuances": list})
}

func (h *Handler) issueEquipment(w http.ResponseWriter, r *http.Request) {
	var req issueEquipmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	iss, err := h.svc.IssueEquipment(r.Context(), currentActor(r), core.IssuanceInput{
		BalanceID:   req.BalanceID,
		PersonnelID: req.PersonnelID,
		Quantity:    req.Quantity,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, iss)
}

func (h *Handler) getIssuance(w http.ResponseWriter, r *http.Request) {
	lookup(h, h.svc.GetIssuance)(w, r)
}

func (h *Handler) returnIssuance(w http.ResponseWriter, r *http.Request) {
	transition(h, h.svc.ReturnIssuance)(w, r)
}

// ── Consumptions ──────────────────────────────────────────────────────────────

func (h *Handler) listConsumptions(w http.ResponseWriter, r *http.Request) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return
	}
	list, err := h.svc.ListConsumptions(r.Context(), currentActor(r).Scope, core.ConsumptionFilter{LocationID: locationID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"consumptions": list})
}

func (h *Handler) expendEquipment(w http.ResponseWriter, r *http.Request) {
	var req expendEquipmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.ExpendEquipment(r.Context(), currentActor(r), core.ConsumptionInput{
		BalanceID:       req.BalanceID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, c)
}

func (h *Handler) getConsumption(w http.ResponseWriter, r *http.Request) {
	lookup(h, h.svc.GetConsumption)(w, r)
}
