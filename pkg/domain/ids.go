// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "emblem/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a LearnerID where a TenantID is expected.
type (
	TenantID        uuid.UUID
	AssertionID     uuid.UUID
	CredentialID    uuid.UUID
	RuleID          uuid.UUID
	RuleVersionID   uuid.UUID
	LearnerID       uuid.UUID
	BadgeTemplateID uuid.UUID
	UserID          uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, queue payloads).

func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID(s, "tenant ID")
	return TenantID(id), err
}

func ParseAssertionID(s string) (AssertionID, error) {
	id, err := parseUUID(s, "assertion ID")
	return AssertionID(id), err
}

func ParseCredentialID(s string) (CredentialID, error) {
	id, err := parseUUID(s, "credential ID")
	return CredentialID(id), err
}

func ParseRuleID(s string) (RuleID, error) {
	id, err := parseUUID(s, "rule ID")
	return RuleID(id), err
}

func ParseRuleVersionID(s string) (RuleVersionID, error) {
	id, err := parseUUID(s, "rule version ID")
	return RuleVersionID(id), err
}

func ParseLearnerID(s string) (LearnerID, error) {
	id, err := parseUUID(s, "learner ID")
	return LearnerID(id), err
}

func ParseBadgeTemplateID(s string) (BadgeTemplateID, error) {
	id, err := parseUUID(s, "badge template ID")
	return BadgeTemplateID(id), err
}

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

// New functions - for freshly created records.

func NewAssertionID() AssertionID     { return AssertionID(uuid.New()) }
func NewRuleID() RuleID               { return RuleID(uuid.New()) }
func NewRuleVersionID() RuleVersionID { return RuleVersionID(uuid.New()) }

// String methods - for logging and store keys.

func (id TenantID) String() string        { return uuid.UUID(id).String() }
func (id AssertionID) String() string     { return uuid.UUID(id).String() }
func (id CredentialID) String() string    { return uuid.UUID(id).String() }
func (id RuleID) String() string          { return uuid.UUID(id).String() }
func (id RuleVersionID) String() string   { return uuid.UUID(id).String() }
func (id LearnerID) String() string       { return uuid.UUID(id).String() }
func (id BadgeTemplateID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string          { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id TenantID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id AssertionID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RuleID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id RuleVersionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id LearnerID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id BadgeTemplateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }

// Text marshaling - IDs travel as canonical UUID strings in JSON payloads
// (queue jobs, API responses), never as raw byte arrays.

func (id TenantID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id AssertionID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id CredentialID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id RuleID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }
func (id RuleVersionID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id LearnerID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id BadgeTemplateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	parsed, err := ParseTenantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AssertionID) UnmarshalText(b []byte) error {
	parsed, err := ParseAssertionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *CredentialID) UnmarshalText(b []byte) error {
	parsed, err := ParseCredentialID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RuleID) UnmarshalText(b []byte) error {
	parsed, err := ParseRuleID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RuleVersionID) UnmarshalText(b []byte) error {
	parsed, err := ParseRuleVersionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *LearnerID) UnmarshalText(b []byte) error {
	parsed, err := ParseLearnerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *BadgeTemplateID) UnmarshalText(b []byte) error {
	parsed, err := ParseBadgeTemplateID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID is the shared validation logic.
// Nil UUIDs are allowed here; use IsNil() at the service layer for business
// validation so store lookups can return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
