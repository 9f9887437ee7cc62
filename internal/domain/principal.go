package domain

import (
	"slices"
	"strings"
)

// Scope represents an authorization scope (e.g. "vectors:read", "files:write").
type Scope string

// Scopes granted per relay backend.
const (
	ScopeVectorsRead  Scope = "vectors:read"
	ScopeVectorsWrite Scope = "vectors:write"
	ScopeFilesRead    Scope = "files:read"
	ScopeFilesWrite   Scope = "files:write"
)

// PrincipalType distinguishes between human users and service accounts.
type PrincipalType int

const (
	PrincipalUnknown PrincipalType = iota
	PrincipalUser
	PrincipalService
)

func (pt PrincipalType) String() string {
	switch pt {
	case PrincipalUser:
		return "user"
	case PrincipalService:
		return "service"
	default:
		return "unknown"
	}
}

// Principal represents an authenticated entity (user or service account).
type Principal struct {
	ID     string
	Type   PrincipalType
	Scopes []Scope
}

// HasScope reports whether the principal has the given scope.
func (p Principal) HasScope(s Scope) bool {
	return slices.Contains(p.Scopes, s)
}

// ScopeString joins the principal's scopes with single spaces, the form used
// in token claims and backend headers.
func (p Principal) ScopeString() string {
	parts := make([]string, len(p.Scopes))
	for i, s := range p.Scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

// ParseScopes splits a space separated scope claim.
func ParseScopes(raw string) []Scope {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	scopes := make([]Scope, len(fields))
	for i, f := range fields {
		scopes[i] = Scope(f)
	}
	return scopes
}
