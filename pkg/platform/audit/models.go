package audit

import (
	"context"
	"time"

	id "emblem/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time
	TenantID   id.TenantID
	ActorID    id.UserID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]string
}

// Action names recorded on the audit trail.
const (
	ActionAssertionIssued     = "assertion_issued"
	ActionAssertionRevoked    = "assertion_revoked"
	ActionAssertionSuspended  = "assertion_suspended"
	ActionAssertionExpired    = "assertion_expired"
	ActionStatusListPublished = "status_list_published"
	ActionRuleVersionCreated  = "rule_version_created"
	ActionRuleSubmitted       = "rule_version_submitted"
	ActionRuleApproved        = "rule_version_approved"
	ActionRuleRejected        = "rule_version_rejected"
	ActionRuleActivated       = "rule_version_activated"
	ActionRuleEvaluated       = "rule_evaluated"
)

// Target types recorded on the audit trail.
const (
	TargetAssertion   = "assertion"
	TargetStatusList  = "status_list"
	TargetRuleVersion = "rule_version"
)

// Store persists audit events. Append-only; there is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
}
