package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"equipment-ledger/internal/ai"
	"equipment-ledger/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeStatusJSON(w, http.StatusOK, v)
}

func writeStatusJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForKind maps a ledger error kind to its HTTP status and error code.
func statusForKind(kind core.ErrorKind) (int, string) {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case core.KindForbidden:
		return http.StatusForbidden, "FORBIDDEN"
	case core.KindInvalidArgument:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case core.KindInvalidTransfer:
		return http.StatusBadRequest, "INVALID_TRANSFER"
	case core.KindInvalidTransition:
		return http.StatusConflict, "INVALID_TRANSITION"
	case core.KindDuplicateReference:
		return http.StatusConflict, "DUPLICATE_REFERENCE"
	case core.KindInsufficientBalance:
		return http.StatusConflict, "INSUFFICIENT_BALANCE"
	case core.KindConcurrentModification:
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// fail writes err as a JSON error. Domain errors carry their own message;
// infrastructure errors are logged and hidden behind a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ai.ErrDisabled) {
		writeError(w, r, err.Error(), "ASSISTANT_DISABLED", http.StatusServiceUnavailable)
		return
	}

	var le *core.LedgerError
	if errors.As(err, &le) {
		status, code := statusForKind(le.Kind)
		if status != http.StatusInternalServerError {
			writeError(w, r, le.Error(), code, status)
			return
		}
	}

	h.log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFromContext(r.Context())),
		zap.Error(err),
	)
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
