package core

import (
	"fmt"
	"strings"
)

// ScopeKind says how many locations an actor may act on.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeSingle
	ScopeAll
)

// LocationScope is resolved by the caller's authorization layer once per request.
// The engine only checks it; it never looks up roles or groups.
type LocationScope struct {
	Kind       ScopeKind
	LocationID int
}

func NoLocations() LocationScope { return LocationScope{Kind: ScopeNone} }
func AllLocations() LocationScope { return LocationScope{Kind: ScopeAll} }
func SingleLocation(id int) LocationScope { return LocationScope{Kind: ScopeSingle, LocationID: id} }

// Allows reports whether locationID is inside the scope.
func (s LocationScope) Allows(locationID int) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeSingle:
		return s.LocationID == locationID
	default:
		return false
	}
}

func (s LocationScope) String() string {
	switch s.Kind {
	case ScopeAll:
		return "all"
	case ScopeSingle:
		return fmt.Sprintf("location:%d", s.LocationID)
	default:
		return "none"
	}
}

// ParseScope builds a scope from a kind word ("all", "location", "none") and,
// for a single-location scope, its id.
func ParseScope(kind string, locationID int) (LocationScope, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "all":
		return AllLocations(), nil
	case "location", "single":
		if locationID <= 0 {
			return LocationScope{}, newError(KindInvalidArgument, "location scope requires a location id")
		}
		return SingleLocation(locationID), nil
	case "", "none":
		return NoLocations(), nil
	}
	return LocationScope{}, newError(KindInvalidArgument, "unknown scope %q", kind)
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	ID        string
	Scope     LocationScope
	IPAddress string
	UserAgent string
}

func (a Actor) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return newError(KindInvalidArgument, "actor id is required")
	}
	return nil
}

// authorize fails unless every location is in scope.
func (a Actor) authorize(locationIDs ...int) error {
	if err := a.validate(); err != nil {
		return err
	}
	for _, id := range locationIDs {
		if !a.Scope.Allows(id) {
			return newError(KindForbidden, "actor %s may not act on location %d", a.ID, id)
		}
	}
	return nil
}

// authorizeAny fails unless at least one location is in scope.
func (a Actor) authorizeAny(locationIDs ...int) error {
	if err := a.validate(); err != nil {
		return err
	}
	for _, id := range locationIDs {
		if a.Scope.Allows(id) {
			return nil
		}
	}
	return newError(KindForbidden, "actor %s may not act on locations %v", a.ID, locationIDs)
}
