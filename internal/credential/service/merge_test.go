package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"emblem/internal/credential/models"
)

var (
	baseTime   = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	revokeTime = baseTime.Add(48 * time.Hour)
)

func activeBase() models.Signal {
	return models.Signal{State: models.StateActive}
}

func revokedBase() models.Signal {
	return models.Signal{State: models.StateRevoked, Reason: reasonStatusListRevoked}
}

func event(state models.LifecycleState, reason string) *models.LifecycleEvent {
	return &models.LifecycleEvent{
		State:          state,
		Reason:         reason,
		TransitionedAt: revokeTime,
	}
}

func TestRevocationPrecedence(t *testing.T) {
	// If either signal reports revoked, the merged state is revoked,
	// regardless of the other signal's value.
	lifecycleStates := []*models.LifecycleEvent{
		nil,
		event(models.StateActive, ""),
		event(models.StateSuspended, ""),
		event(models.StateExpired, ""),
		event(models.StateRevoked, ""),
	}
	for _, lc := range lifecycleStates {
		merged := MergeSignals(revokedBase(), lc, nil)
		assert.Equal(t, models.StateRevoked, merged.State, "base revoked, lifecycle %+v", lc)
	}

	bases := []models.Signal{activeBase(), revokedBase(),
		{State: models.StateSuspended}, {State: models.StateExpired}}
	for _, base := range bases {
		merged := MergeSignals(base, event(models.StateRevoked, ""), nil)
		assert.Equal(t, models.StateRevoked, merged.State, "lifecycle revoked, base %+v", base)
	}
}

func TestSuspensionDoesNotOverrideRevocation(t *testing.T) {
	merged := MergeSignals(activeBase(), event(models.StateSuspended, "academic hold"), nil)
	assert.Equal(t, models.StateSuspended, merged.State)
	assert.Equal(t, "academic hold", merged.Reason)

	merged = MergeSignals(revokedBase(), event(models.StateSuspended, "academic hold"), nil)
	assert.Equal(t, models.StateRevoked, merged.State)
}

func TestLifecycleRevocationTimestampSelection(t *testing.T) {
	lc := event(models.StateRevoked, "")
	lc.RevokedAt = &revokeTime

	// Lifecycle event's RevokedAt used when the assertion has none.
	merged := MergeSignals(activeBase(), lc, nil)
	assert.Equal(t, &revokeTime, merged.RevokedAt)

	// Assertion's RevokedAt is used verbatim when present.
	assertionRevokedAt := baseTime.Add(time.Hour)
	merged = MergeSignals(activeBase(), lc, &assertionRevokedAt)
	assert.Equal(t, &assertionRevokedAt, merged.RevokedAt)
}

func TestRevocationReasonFallsThrough(t *testing.T) {
	// assertion-reason -> base-reason -> fixed default
	merged := MergeSignals(revokedBase(), event(models.StateRevoked, "misconduct"), nil)
	assert.Equal(t, "misconduct", merged.Reason)

	merged = MergeSignals(revokedBase(), event(models.StateRevoked, ""), nil)
	assert.Equal(t, reasonStatusListRevoked, merged.Reason)

	merged = MergeSignals(activeBase(), event(models.StateRevoked, ""), nil)
	assert.Equal(t, defaultRevokedReason, merged.Reason)
}

func TestSuspensionDefaultsReasonAndKeepsBaseRevokedAt(t *testing.T) {
	merged := MergeSignals(activeBase(), event(models.StateSuspended, ""), nil)
	assert.Equal(t, defaultSuspendedReason, merged.Reason)
	assert.Nil(t, merged.RevokedAt)
}

func TestExpiryTakesTransitionTimestampWhenBaseHasNone(t *testing.T) {
	merged := MergeSignals(activeBase(), event(models.StateExpired, ""), nil)
	assert.Equal(t, models.StateExpired, merged.State)
	assert.Equal(t, &revokeTime, merged.ExpiresAt)

	// Base's own expiry wins when present.
	docExpiry := baseTime.Add(24 * time.Hour)
	base := models.Signal{State: models.StateActive, ExpiresAt: &docExpiry}
	merged = MergeSignals(base, event(models.StateExpired, ""), nil)
	assert.Equal(t, &docExpiry, merged.ExpiresAt)
}

func TestBaseReturnedUnchangedWithoutLifecycleOverride(t *testing.T) {
	docExpiry := baseTime.Add(24 * time.Hour)
	base := models.Signal{State: models.StateActive, ExpiresAt: &docExpiry}

	for _, lc := range []*models.LifecycleEvent{nil, event(models.StateActive, "reinstated")} {
		merged := MergeSignals(base, lc, nil)
		assert.Equal(t, base, merged)
	}
}
