package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"equipment-ledger/internal/app"
	"equipment-ledger/internal/core"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ── Pending proposal store ────────────────────────────────────────────────────

// pendingProposal is held server-side until the actor who asked confirms or cancels it.
type pendingProposal struct {
	Proposal  core.MovementProposal
	ActorID   string
	CreatedAt time.Time
}

const pendingTTL = 15 * time.Minute

// pendingStore is a thread-safe in-memory store with TTL expiry.
type pendingStore struct {
	mu        sync.Mutex
	proposals map[string]pendingProposal
	now       func() time.Time
}

func newPendingStore() *pendingStore {
	return &pendingStore{proposals: make(map[string]pendingProposal), now: time.Now}
}

func (s *pendingStore) put(token string, p pendingProposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[token] = p
}

// take removes and returns the proposal for token. Expired entries are dropped.
func (s *pendingStore) take(token string) (pendingProposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[token]
	if !ok {
		return pendingProposal{}, false
	}
	delete(s.proposals, token)
	if s.now().Sub(p.CreatedAt) > pendingTTL {
		return pendingProposal{}, false
	}
	return p, true
}

func (s *pendingStore) purgeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, p := range s.proposals {
		if s.now().Sub(p.CreatedAt) > pendingTTL {
			delete(s.proposals, token)
		}
	}
}

// startPurge evicts expired entries every 5 minutes until ctx is done.
func (s *pendingStore) startPurge(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purgeExpired()
			}
		}
	}()
}

// ── Request / response types ──────────────────────────────────────────────────

type interpretRequest struct {
	Text string `json:"text"`
}

type interpretResponse struct {
	Token    string                 `json:"token,omitempty"`
	Proposal *core.MovementProposal `json:"proposal"`
}

type confirmRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"` // "confirm" or "cancel"
}

// interpretMovement handles POST /api/assistant/interpret. A proposal that needs
// clarification is returned without a token since there is nothing to confirm.
func (h *Handler) interpretMovement(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := currentActor(r)
	result, err := h.svc.InterpretMovement(r.Context(), actor, app.InterpretRequest{Text: req.Text})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := interpretResponse{Proposal: result.Proposal}
	if !result.Proposal.ClarificationNeeded {
		resp.Token = uuid.NewString()
		h.pending.put(resp.Token, pendingProposal{
			Proposal:  *result.Proposal,
			ActorID:   actor.ID,
			CreatedAt: h.pending.now(),
		})
	}
	writeJSON(w, resp)
}

// confirmMovement handles POST /api/assistant/confirm and executes or cancels a
// pending proposal. Only the actor who requested it may confirm it.
func (h *Handler) confirmMovement(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, r, "token is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Action != "confirm" && req.Action != "cancel" {
		writeError(w, r, "action must be 'confirm' or 'cancel'", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	actor := currentActor(r)
	pending, ok := h.pending.take(req.Token)
	if !ok {
		writeError(w, r, "token not found or expired", "NOT_FOUND", http.StatusNotFound)
		return
	}
	if pending.ActorID != actor.ID {
		h.pending.put(req.Token, pending)
		writeError(w, r, "proposal belongs to another actor", "FORBIDDEN", http.StatusForbidden)
		return
	}

	if req.Action == "cancel" {
		h.log.Info("movement proposal cancelled", zap.String("actor", actor.ID), zap.String("token", req.Token))
		writeJSON(w, map[string]any{"ok": true, "message": "Cancelled."})
		return
	}

	result, err := h.svc.ExecuteProposal(r.Context(), actor, pending.Proposal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, result)
}
