package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"equipment-ledger/internal/ai"
	"equipment-ledger/internal/app"
	"equipment-ledger/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// fakeService overrides only what a test needs; anything else panics.
type fakeService struct {
	app.ApplicationService

	getBalance  func(scope core.LocationScope, id int) (*core.Balance, error)
	submitted   []core.AcquisitionInput
	submitActor core.Actor
	approveErr  error
	interpret   func(text string) (*app.InterpretResult, error)
	executed    []core.MovementProposal
	reconciled  bool
}

func (f *fakeService) GetBalance(_ context.Context, scope core.LocationScope, id int) (*core.Balance, error) {
	return f.getBalance(scope, id)
}

func (f *fakeService) SubmitAcquisition(_ context.Context, actor core.Actor, in core.AcquisitionInput) (*core.Acquisition, error) {
	f.submitActor = actor
	f.submitted = append(f.submitted, in)
	return &core.Acquisition{ID: 1, Quantity: in.Quantity, Status: core.StatusPending}, nil
}

func (f *fakeService) ApproveAcquisition(_ context.Context, _ core.Actor, id int) (*core.Acquisition, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &core.Acquisition{ID: id, Status: core.StatusApproved}, nil
}

func (f *fakeService) InterpretMovement(_ context.Context, _ core.Actor, req app.InterpretRequest) (*app.InterpretResult, error) {
	return f.interpret(req.Text)
}

func (f *fakeService) ExecuteProposal(_ context.Context, _ core.Actor, p core.MovementProposal) (*app.ExecuteResult, error) {
	f.executed = append(f.executed, p)
	return &app.ExecuteResult{Action: p.Action, Acquisition: &core.Acquisition{ID: 9}}, nil
}

func (f *fakeService) Reconcile(context.Context) (*app.ReconcileResult, error) {
	f.reconciled = true
	return &app.ReconcileResult{Healthy: true}, nil
}

func newTestHandler(t *testing.T, svc app.ApplicationService) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHandler(ctx, svc, zap.NewNop(), "https://ops.example", testSecret)
}

func token(t *testing.T, subject string, scope core.LocationScope) string {
	t.Helper()
	tok, err := IssueToken(testSecret, subject, scope, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("User-Agent", "ledger-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind   core.ErrorKind
		status int
		code   string
	}{
		{core.KindNotFound, http.StatusNotFound, "NOT_FOUND"},
		{core.KindForbidden, http.StatusForbidden, "FORBIDDEN"},
		{core.KindInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{core.KindInvalidTransfer, http.StatusBadRequest, "INVALID_TRANSFER"},
		{core.KindInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
		{core.KindDuplicateReference, http.StatusConflict, "DUPLICATE_REFERENCE"},
		{core.KindInsufficientBalance, http.StatusConflict, "INSUFFICIENT_BALANCE"},
		{core.KindConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{core.KindUnknown, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			status, code := statusForKind(tt.kind)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHandler(t, &fakeService{})
	rec := do(t, h, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequireAuth(t *testing.T) {
	h := newTestHandler(t, &fakeService{})

	t.Run("missing token", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/me", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := IssueToken("other-secret", "clerk", core.AllLocations(), time.Hour)
		require.NoError(t, err)
		rec := do(t, h, http.MethodGet, "/api/me", "", tok)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := IssueToken(testSecret, "clerk", core.AllLocations(), -time.Minute)
		require.NoError(t, err)
		rec := do(t, h, http.MethodGet, "/api/me", "", tok)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("single location scope", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/me", "", token(t, "north-clerk", core.SingleLocation(4)))
		require.Equal(t, http.StatusOK, rec.Code)

		var got meResponse
		decodeBody(t, rec, &got)
		assert.Equal(t, "north-clerk", got.ID)
		assert.Equal(t, "location:4", got.Scope)
		assert.Equal(t, 4, got.LocationID)
	})
}

func TestSubmitAcquisition_PassesActorAndDecimals(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	body := `{"equipment_kind_id":7,"location_id":1,"quantity":"20","supplier":"Acme","reference_number":"PO-7","cost":"1500.50"}`
	rec := do(t, h, http.MethodPost, "/api/acquisitions", body, token(t, "hq", core.AllLocations()))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, svc.submitted, 1)
	in := svc.submitted[0]
	assert.Equal(t, 7, in.EquipmentKindID)
	assert.True(t, in.Quantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, in.Cost.Equal(decimal.RequireFromString("1500.50")))

	assert.Equal(t, "hq", svc.submitActor.ID)
	assert.Equal(t, core.ScopeAll, svc.submitActor.Scope.Kind)
	assert.Equal(t, "192.0.2.1", svc.submitActor.IPAddress)
	assert.Equal(t, "ledger-test", svc.submitActor.UserAgent)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"forbidden", core.NewError(core.KindForbidden, "outside scope"), http.StatusForbidden, "FORBIDDEN"},
		{"not found", core.NewError(core.KindNotFound, "balance 3 not found"), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", core.NewError(core.KindConcurrentModification, "balance changed"), http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{"infrastructure", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"assistant disabled", ai.ErrDisabled, http.StatusServiceUnavailable, "ASSISTANT_DISABLED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{getBalance: func(core.LocationScope, int) (*core.Balance, error) { return nil, tt.err }}
			h := newTestHandler(t, svc)

			rec := do(t, h, http.MethodGet, "/api/balances/3", "", token(t, "hq", core.AllLocations()))
			assert.Equal(t, tt.status, rec.Code)

			var got errorResponse
			decodeBody(t, rec, &got)
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.RequestID)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, got.Error, "connection reset")
			}
		})
	}
}

func TestTransitionRoutes(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)
	tok := token(t, "hq", core.AllLocations())

	rec := do(t, h, http.MethodPost, "/api/acquisitions/5/approve", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	var got core.Acquisition
	decodeBody(t, rec, &got)
	assert.Equal(t, 5, got.ID)
	assert.Equal(t, core.StatusApproved, got.Status)

	rec = do(t, h, http.MethodPost, "/api/acquisitions/abc/approve", "", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.approveErr = core.NewError(core.KindInvalidTransition, "acquisition 5 is REJECTED")
	rec = do(t, h, http.MethodPost, "/api/acquisitions/5/approve", "", tok)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReconcileRequiresAllLocations(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/reconcile", "", token(t, "clerk", core.SingleLocation(1)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, svc.reconciled)

	rec = do(t, h, http.MethodGet, "/api/reconcile", "", token(t, "hq", core.AllLocations()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.reconciled)
}

func TestAssistantInterpretAndConfirm(t *testing.T) {
	svc := &fakeService{interpret: func(text string) (*app.InterpretResult, error) {
		return &app.InterpretResult{Proposal: &core.MovementProposal{
			Action: core.ActionAcquisition, EquipmentKind: "Rifle", Location: "Base North",
			Quantity: "20", ReferenceNumber: "PO-7", Cost: "0", Confidence: 0.9,
		}}, nil
	}}
	h := newTestHandler(t, svc)
	owner := token(t, "hq", core.AllLocations())

	rec := do(t, h, http.MethodPost, "/api/assistant/interpret", `{"text":"received 20 rifles"}`, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	var interp interpretResponse
	decodeBody(t, rec, &interp)
	require.NotEmpty(t, interp.Token)

	confirm := `{"token":"` + interp.Token + `","action":"confirm"}`

	rec = do(t, h, http.MethodPost, "/api/assistant/confirm", confirm, token(t, "intruder", core.AllLocations()))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.executed)

	rec = do(t, h, http.MethodPost, "/api/assistant/confirm", confirm, owner)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, svc.executed, 1)
	assert.Equal(t, "PO-7", svc.executed[0].ReferenceNumber)

	rec = do(t, h, http.MethodPost, "/api/assistant/confirm", confirm, owner)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, svc.executed, 1)
}

func TestAssistantClarificationHasNoToken(t *testing.T) {
	svc := &fakeService{interpret: func(string) (*app.InterpretResult, error) {
		return &app.InterpretResult{Proposal: &core.MovementProposal{
			ClarificationNeeded: true, ClarificationMessage: "Which base?",
		}}, nil
	}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/assistant/interpret", `{"text":"move rifles"}`, token(t, "hq", core.AllLocations()))
	require.Equal(t, http.StatusOK, rec.Code)
	var interp interpretResponse
	decodeBody(t, rec, &interp)
	assert.Empty(t, interp.Token)
	assert.Equal(t, "Which base?", interp.Proposal.ClarificationMessage)
}

func TestRecovererReturns500(t *testing.T) {
	svc := &fakeService{getBalance: func(core.LocationScope, int) (*core.Balance, error) { panic("boom") }}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/balances/1", "", token(t, "hq", core.AllLocations()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestHandler(t, &fakeService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/balances", nil)
	req.Header.Set("Origin", "https://ops.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPendingStoreExpiry(t *testing.T) {
	s := newPendingStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.put("a", pendingProposal{ActorID: "hq", CreatedAt: now})
	s.put("b", pendingProposal{ActorID: "hq", CreatedAt: now})

	now = now.Add(pendingTTL + time.Second)
	_, ok := s.take("a")
	assert.False(t, ok)

	s.purgeExpired()
	assert.Empty(t, s.proposals)
}
