package web

import (
	"net/http"

	"equipment-ledger/internal/core"
)

type createLocationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type setCommanderRequest struct {
	CommanderID string `json:"commander_id"`
}

type createEquipmentKindRequest struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	UnitOfMeasure string `json:"unit_of_measure"`
	Description   string `json:"description"`
}

type createPersonnelRequest struct {
	FullName      string `json:"full_name"`
	Rank          string `json:"rank"`
	ServiceNumber string `json:"service_number"`
	LocationID    int    `json:"location_id"`
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.ListLocations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"locations": locations})
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	location, err := h.svc.GetLocation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, location)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	location, err := h.svc.CreateLocation(r.Context(), currentActor(r), core.LocationInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, location)
}

func (h *Handler) setCommander(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req setCommanderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	location, err := h.svc.SetCommander(r.Context(), currentActor(r), id, req.CommanderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, location)
}

func (h *Handler) listEquipmentKinds(w http.ResponseWriter, r *http.Request) {
	kinds, err := h.svc.ListEquipmentKinds(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"equipment_kinds": kinds})
}

func (h *Handler) createEquipmentKind(w http.ResponseWriter, r *http.Request) {
	var req createEquipmentKindRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := h.svc.CreateEquipmentKind(r.Context(), currentActor(r), core.EquipmentKindInput{
		Name:          req.Name,
		Category:      req.Category,
		UnitOfMeasure: req.UnitOfMeasure,
		Description:   req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, kind)
}

func (h *Handler) listPersonnel(w http.ResponseWriter, r *http.Request) {
	locationID, ok := optionalInt(w, r, "location_id")
	if !ok {
		return
	}
	personnel, err := h.svc.ListPersonnel(r.Context(), currentActor(r).Scope, locationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"personnel": personnel})
}

func (h *Handler) createPersonnel(w http.ResponseWriter, r *http.Request) {
	var req createPersonnelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePersonnel(r.Context(), currentActor(r), core.PersonnelInput{
		FullName:      req.FullName,
		Rank:          req.Rank,
		ServiceNumber: req.ServiceNumber,
		LocationID:    req.LocationID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, p)
}
