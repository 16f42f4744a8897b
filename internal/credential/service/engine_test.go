package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"emblem/internal/credential/models"
	"emblem/internal/credential/ports"
	"emblem/internal/credential/store"
	"emblem/internal/signing"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

const engineTestDID = "did:web:college.example"

// VerificationSuite exercises the full verify path: document proof check,
// status list bit, lifecycle trail, and the merge of all three.
type VerificationSuite struct {
	suite.Suite
	engine     *Engine
	assertions *store.InMemoryAssertions
	lifecycle  *store.InMemoryLifecycle
	documents  *ports.InMemoryDocuments
	signer     *signing.LocalSigner
	tenantID   id.TenantID
	learnerID  id.LearnerID
	templateID id.BadgeTemplateID
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, []byte("verification-suite-fixed-seed-00"))
	registry := signing.NewRegistry(signing.KeyConfig{
		DID:       engineTestDID,
		Kind:      signing.KeyKindLocal,
		ProofType: signing.ProofEdDSA,
		Seed:      base64.StdEncoding.EncodeToString(seed),
	})

	s.assertions = store.NewInMemoryAssertions()
	s.lifecycle = store.NewInMemoryLifecycle()
	s.documents = ports.NewInMemoryDocuments()
	s.signer = signing.NewLocalSigner(registry)
	s.engine = NewEngine(s.assertions, s.lifecycle, s.documents, signing.NewVerifier(registry))

	s.tenantID = id.TenantID(uuid.New())
	s.learnerID = id.LearnerID(uuid.New())
	s.templateID = id.BadgeTemplateID(uuid.New())
}

// issue creates an assertion with a properly signed document and returns it.
func (s *VerificationSuite) issue() models.Assertion {
	assertion := models.Assertion{
		ID:              id.NewAssertionID(),
		TenantID:        s.tenantID,
		LearnerID:       s.learnerID,
		BadgeTemplateID: s.templateID,
		IssuedAt:        time.Now().Add(-time.Hour),
	}
	stored, err := s.assertions.Create(context.Background(), assertion)
	s.Require().NoError(err)

	doc := map[string]any{"badge": "Database Fundamentals", "learner": s.learnerID.String()}
	signed, err := s.signer.Sign(context.Background(), engineTestDID, doc, signing.ProofEdDSA)
	s.Require().NoError(err)

	_, err = s.documents.Put(context.Background(), s.tenantID, stored.ID.String(), signed)
	s.Require().NoError(err)
	return stored
}

func (s *VerificationSuite) TestActiveCredential() {
	assertion := s.issue()

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateActive, result.State)
	s.Nil(result.RevokedAt)
	s.Nil(result.AssertionLifecycle)
	s.False(result.CheckedAt.IsZero())
}

func (s *VerificationSuite) TestMalformedIDRejectedBeforeLookup() {
	_, err := s.engine.Verify(context.Background(), "not-a-uuid")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.engine.Verify(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VerificationSuite) TestUnknownCredentialIsNotFound() {
	_, err := s.engine.Verify(context.Background(), uuid.NewString())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *VerificationSuite) TestRevocationVisibleOnNextReadWithoutResigning() {
	assertion := s.issue()

	// Revoke through the lifecycle service; the stored document is untouched.
	lifecycle := NewLifecycle(s.assertions, s.lifecycle, nil)
	_, err := lifecycle.Transition(context.Background(), TransitionRequest{
		AssertionID: assertion.ID,
		State:       models.StateRevoked,
		ReasonCode:  "misconduct",
		Reason:      "code of conduct violation",
	})
	s.Require().NoError(err)

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateRevoked, result.State)
	s.Equal("code of conduct violation", result.Reason)
	s.Require().NotNil(result.RevokedAt)
	s.Require().NotNil(result.AssertionLifecycle)
	s.Equal(models.StateRevoked, result.AssertionLifecycle.State)
}

func (s *VerificationSuite) TestStatusListBitRevokesWithoutLifecycleEvent() {
	assertion := s.issue()

	// Stamp RevokedAt directly: the status list bit derives from it.
	revokedAt := time.Now()
	s.Require().NoError(s.assertions.MarkRevoked(context.Background(), assertion.ID, revokedAt))

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateRevoked, result.State)
	s.Equal(reasonStatusListRevoked, result.Reason)
}

func (s *VerificationSuite) TestSuspensionOverlaysActiveBase() {
	assertion := s.issue()

	lifecycle := NewLifecycle(s.assertions, s.lifecycle, nil)
	_, err := lifecycle.Transition(context.Background(), TransitionRequest{
		AssertionID: assertion.ID,
		State:       models.StateSuspended,
		Reason:      "pending investigation",
	})
	s.Require().NoError(err)

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateSuspended, result.State)
	s.Equal("pending investigation", result.Reason)
	s.Nil(result.RevokedAt)
}

func (s *VerificationSuite) TestTamperedDocumentIsRevoked() {
	assertion := s.issue()

	doc, err := s.documents.Get(context.Background(), s.tenantID, id.CredentialID(assertion.ID))
	s.Require().NoError(err)
	tampered := append([]byte{}, doc...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = s.documents.Put(context.Background(), s.tenantID, assertion.ID.String(), tampered)
	s.Require().NoError(err)

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateRevoked, result.State)
	s.Equal(reasonProofInvalid, result.Reason)
}

func (s *VerificationSuite) TestReinstatedAfterSuspension() {
	assertion := s.issue()

	lifecycle := NewLifecycle(s.assertions, s.lifecycle, nil)
	_, err := lifecycle.Transition(context.Background(), TransitionRequest{
		AssertionID: assertion.ID, State: models.StateSuspended,
	})
	s.Require().NoError(err)
	_, err = lifecycle.Transition(context.Background(), TransitionRequest{
		AssertionID: assertion.ID, State: models.StateActive, Reason: "hold cleared",
	})
	s.Require().NoError(err)

	result, err := s.engine.Verify(context.Background(), assertion.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StateActive, result.State)
}
