// Package ports declares the collaborator contracts the rule engine consumes.
package ports

import (
	"context"

	"emblem/internal/rules/models"
	id "emblem/pkg/domain"
)

// IssueResult reports one issuance attempt.
type IssueResult struct {
	Status      models.IssuanceStatus
	AssertionID *id.AssertionID
}

// IssuanceGateway creates an assertion for a recipient. The rule engine calls
// it synchronously on a fresh match; queue-driven issuance wraps the same
// contract behind an idempotency key.
type IssuanceGateway interface {
	Issue(ctx context.Context, tenantID id.TenantID, badgeTemplateID id.BadgeTemplateID, recipient id.LearnerID, recipientType string) (IssueResult, error)
}
