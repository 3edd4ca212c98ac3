package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"equipment-ledger/internal/app"
	"equipment-ledger/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handler holds the ApplicationService, the chi router, and the pending proposal store.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	pending   *pendingStore
	jwtSecret string
	log       *zap.Logger
}

// NewHandler creates and wires the chi router with all routes. Background
// maintenance stops when ctx is cancelled.
func NewHandler(ctx context.Context, svc app.ApplicationService, log *zap.Logger, allowedOrigins, jwtSecret string) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		svc:       svc,
		pending:   newPendingStore(),
		jwtSecret: jwtSecret,
		log:       log,
	}
	h.pending.startPurge(ctx)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Route("/api", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/me", h.me)

		// Catalog
		r.Get("/locations", h.listLocations)
		r.Post("/locations", h.createLocation)
		r.Get("/locations/{id}", h.getLocation)
		r.Put("/locations/{id}/commander", h.setCommander)
		r.Get("/equipment-kinds", h.listEquipmentKinds)
		r.Post("/equipment-kinds", h.createEquipmentKind)
		r.Get("/personnel", h.listPersonnel)
		r.Post("/personnel", h.createPersonnel)

		// Balances and reporting
		r.Get("/balances", h.listBalances)
		r.Get("/balances/{id}", h.getBalance)
		r.Get("/balances/{id}/net-movement", h.netMovement)
		r.Get("/balances/{id}/history", h.balanceHistory)
		r.Put("/balances/{id}/opening", h.setOpeningBalance)
		r.Get("/summary", h.dashboard)
		r.Get("/audit", h.auditLog)
		r.Get("/reconcile", h.reconcile)

		// Movements
		r.Get("/acquisitions", h.listAcquisitions)
		r.Post("/acquisitions", h.submitAcquisition)
		r.Get("/acquisitions/{id}", h.getAcquisition)
		r.Post("/acquisitions/{id}/approve", h.approveAcquisition)
		r.Post("/acquisitions/{id}/reject", h.rejectAcquisition)

		r.Get("/relocations", h.listRelocations)
		r.Post("/relocations", h.initiateRelocation)
		r.Get("/relocations/{id}", h.getRelocation)
		r.Post("/relocations/{id}/dispatch", h.advanceRelocation)
		r.Post("/relocations/{id}/complete", h.completeRelocation)
		r.Post("/relocations/{id}/reject", h.rejectRelocation)

		r.Get("/issuances", h.listIssuances)
		r.Post("/issuances", h.issueEquipment)
		r.Get("/issuances/{id}", h.getIssuance)
		r.Post("/issuances/{id}/return", h.returnIssuance)

		r.Get("/consumptions", h.listConsumptions)
		r.Post("/consumptions", h.expendEquipment)
		r.Get("/consumptions/{id}", h.getConsumption)

		// Movement assistant
		r.Post("/assistant/interpret", h.interpretMovement)
		r.Post("/assistant/confirm", h.confirmMovement)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// currentActor returns the actor injected by RequireAuth.
func currentActor(r *http.Request) core.Actor {
	a, _ := actorFromContext(r.Context())
	return a
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// idParam reads the {id} URL parameter. Writes 400 and returns false when it is
// not a positive integer.
func idParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "id must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// optionalInt reads an integer query parameter; absent means nil.
func optionalInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, name+" must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return nil, false
	}
	return &v, true
}

// historyFilter reads event_kind (repeatable or comma-separated), actor, from,
// to (RFC 3339) and limit.
func historyFilter(w http.ResponseWriter, r *http.Request) (core.HistoryFilter, bool) {
	q := r.URL.Query()
	var f core.HistoryFilter
	for _, v := range q["event_kind"] {
		f.EventKinds = append(f.EventKinds, splitAndTrim(strings.ToUpper(v))...)
	}
	f.ActorID = q.Get("actor")

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, name+" must be an RFC 3339 timestamp", "BAD_REQUEST", http.StatusBadRequest)
			return f, false
		}
		*dst = &t
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, "limit must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
			return f, false
		}
		f.Limit = n
	}
	return f, true
}
