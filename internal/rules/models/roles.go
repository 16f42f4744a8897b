package models

import (
	dErrors "emblem/pkg/domain-errors"
)

// Role is the closed, ordered set of actor roles used by approval steps.
// Comparisons go through rank so role gating is total and exhaustive rather
// than string-dependent.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleInstructor Role = "instructor"
	RoleIssuer     Role = "issuer"
	RoleAdmin      Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:     0,
	RoleInstructor: 1,
	RoleIssuer:     2,
	RoleAdmin:      3,
}

// ParseRole validates a role string against the closed set.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if _, ok := roleRank[role]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown role "+s)
	}
	return role, nil
}

// Meets reports whether the role satisfies a required role (rank >=).
func (r Role) Meets(required Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	requiredRank, ok := roleRank[required]
	if !ok {
		return false
	}
	return rank >= requiredRank
}
