package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"equipment-ledger/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// actorFromContext returns the authenticated actor stored in ctx.
func actorFromContext(ctx context.Context) (core.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(core.Actor)
	return a, ok
}

// actorClaims is the JWT payload issued by the external authorization layer.
// The subject is the actor id; scope is "all", "location" or "none".
type actorClaims struct {
	Scope      string `json:"scope"`
	LocationID int    `json:"location_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject with the given location scope.
func IssueToken(secret, subject string, scope core.LocationScope, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}

	claims := &actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	switch scope.Kind {
	case core.ScopeAll:
		claims.Scope = "all"
	case core.ScopeSingle:
		claims.Scope = "location"
		claims.LocationID = scope.LocationID
	default:
		claims.Scope = "none"
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken verifies raw and returns its claims.
func parseToken(secret, raw string) (*actorClaims, error) {
	claims := &actorClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// RequireAuth is chi middleware that validates the bearer token and injects the
// core.Actor into the request context. Returns 401 if the token is absent or invalid.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims, err := parseToken(h.jwtSecret, strings.TrimSpace(raw))
		if err != nil || claims.Subject == "" {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		scope, err := core.ParseScope(claims.Scope, claims.LocationID)
		if err != nil {
			writeError(w, r, "token carries an invalid scope", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		actor := core.Actor{
			ID:        claims.Subject,
			Scope:     scope,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP strips the port from RemoteAddr. RealIP middleware has already
// applied any trusted forwarding header.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type meResponse struct {
	ID         string `json:"id"`
	Scope      string `json:"scope"`
	LocationID int    `json:"location_id,omitempty"`
}

// me handles GET /api/me and echoes the resolved actor.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	writeJSON(w, meResponse{ID: actor.ID, Scope: actor.Scope.String(), LocationID: actor.Scope.LocationID})
}
