// Package models holds the credential lifecycle domain types.
package models

import (
	"time"

	id "emblem/pkg/domain"
)

// LifecycleState is the closed set of assertion lifecycle states.
type LifecycleState string

const (
	StateActive    LifecycleState = "active"
	StateSuspended LifecycleState = "suspended"
	StateRevoked   LifecycleState = "revoked"
	StateExpired   LifecycleState = "expired"
)

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateActive, StateSuspended, StateRevoked, StateExpired:
		return true
	}
	return false
}

// Assertion is the institutional record of one issued credential, distinct
// from the signed document itself. Immutable after issuance except for
// RevokedAt. StatusListIndex is assigned once by the store and never reused,
// so a bit position maps to exactly one assertion for the tenant's lifetime.
type Assertion struct {
	ID              id.AssertionID
	TenantID        id.TenantID
	LearnerID       id.LearnerID
	BadgeTemplateID id.BadgeTemplateID
	IssuedAt        time.Time
	RevokedAt       *time.Time
	StatusListIndex *int
}

// LifecycleEvent is one append-only, institution-driven state transition for
// an assertion. The most recent event is the authoritative lifecycle signal,
// independent of the cryptographic proof and status-list state.
type LifecycleEvent struct {
	AssertionID    id.AssertionID `json:"assertionId"`
	State          LifecycleState `json:"state"`
	ReasonCode     string         `json:"reasonCode,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	TransitionedAt time.Time      `json:"transitionedAt"`
	RevokedAt      *time.Time     `json:"revokedAt,omitempty"`
}

// Signal is one verification input: either the base cryptographic/status-list
// check or the lifecycle trail, normalized to a common shape for merging.
type Signal struct {
	State     LifecycleState
	Reason    string
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// VerifyResult is the authoritative answer for one credential. The raw
// lifecycle signal rides alongside the merged state so downstream consumers
// can distinguish why from what.
type VerifyResult struct {
	State              LifecycleState  `json:"state"`
	Reason             string          `json:"reason"`
	ExpiresAt          *time.Time      `json:"expiresAt,omitempty"`
	RevokedAt          *time.Time      `json:"revokedAt,omitempty"`
	CheckedAt          time.Time       `json:"checkedAt"`
	AssertionLifecycle *LifecycleEvent `json:"assertionLifecycle,omitempty"`
}

// PublishResult reports one status-list publication.
type PublishResult struct {
	LocationKey    string    `json:"locationKey"`
	Version        int       `json:"version"`
	AssertionCount int       `json:"assertionCount"`
	RevokedCount   int       `json:"revokedCount"`
	PublishedAt    time.Time `json:"publishedAt"`
}
