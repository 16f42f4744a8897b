package service

import (
	"time"

	"emblem/internal/credential/models"
)

// Default reasons used when neither signal supplies one.
const (
	defaultRevokedReason   = "credential has been revoked"
	defaultSuspendedReason = "credential is suspended"
	defaultExpiredReason   = "credential has expired"
)

// mergeRule is one row of the precedence table. Rules are evaluated
// top-to-bottom and the first applicable rule decides the merged signal,
// which keeps the precedence order auditable independent of the engine.
type mergeRule struct {
	name    string
	applies func(base models.Signal, lifecycle *models.LifecycleEvent) bool
	apply   func(base models.Signal, lifecycle *models.LifecycleEvent) models.Signal
}

// mergeRules encodes the design intent: explicit revocation by either signal
// is terminal and cannot be healed by re-verifying the document; suspension
// and expiry are softer states that the base signal's lack of information
// must not mask.
var mergeRules = []mergeRule{
	{
		name: "lifecycle revocation wins",
		applies: func(_ models.Signal, lifecycle *models.LifecycleEvent) bool {
			return lifecycle != nil && lifecycle.State == models.StateRevoked
		},
		apply: func(base models.Signal, lifecycle *models.LifecycleEvent) models.Signal {
			merged := models.Signal{
				State:     models.StateRevoked,
				Reason:    firstNonEmpty(lifecycle.Reason, base.Reason, defaultRevokedReason),
				ExpiresAt: base.ExpiresAt,
				RevokedAt: lifecycle.RevokedAt,
			}
			if merged.RevokedAt == nil {
				merged.RevokedAt = base.RevokedAt
			}
			return merged
		},
	},
	{
		name: "base revocation cannot be overridden",
		applies: func(base models.Signal, _ *models.LifecycleEvent) bool {
			return base.State == models.StateRevoked
		},
		apply: func(base models.Signal, _ *models.LifecycleEvent) models.Signal {
			return base
		},
	},
	{
		name: "lifecycle suspension",
		applies: func(_ models.Signal, lifecycle *models.LifecycleEvent) bool {
			return lifecycle != nil && lifecycle.State == models.StateSuspended
		},
		apply: func(base models.Signal, lifecycle *models.LifecycleEvent) models.Signal {
			return models.Signal{
				State:     models.StateSuspended,
				Reason:    firstNonEmpty(lifecycle.Reason, defaultSuspendedReason),
				ExpiresAt: base.ExpiresAt,
				RevokedAt: base.RevokedAt,
			}
		},
	},
	{
		name: "lifecycle expiry",
		applies: func(_ models.Signal, lifecycle *models.LifecycleEvent) bool {
			return lifecycle != nil && lifecycle.State == models.StateExpired
		},
		apply: func(base models.Signal, lifecycle *models.LifecycleEvent) models.Signal {
			merged := models.Signal{
				State:     models.StateExpired,
				Reason:    firstNonEmpty(lifecycle.Reason, defaultExpiredReason),
				ExpiresAt: base.ExpiresAt,
				RevokedAt: base.RevokedAt,
			}
			if merged.ExpiresAt == nil {
				at := lifecycle.TransitionedAt
				merged.ExpiresAt = &at
			}
			return merged
		},
	},
}

// MergeSignals reconciles the base cryptographic/status-list signal with the
// assertion lifecycle trail. The assertion's own RevokedAt, when present,
// takes precedence over the lifecycle event's timestamp.
func MergeSignals(base models.Signal, lifecycle *models.LifecycleEvent, assertionRevokedAt *time.Time) models.Signal {
	for _, rule := range mergeRules {
		if rule.applies(base, lifecycle) {
			merged := rule.apply(base, lifecycle)
			if merged.State == models.StateRevoked && assertionRevokedAt != nil {
				merged.RevokedAt = assertionRevokedAt
			}
			return merged
		}
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
