package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"emblem/internal/credential/models"
	"emblem/internal/credential/ports"
	"emblem/internal/credential/store"
	"emblem/internal/signing"
	"emblem/internal/statuslist"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

const publisherTestDID = "did:web:institute.example"

type PublicationSuite struct {
	suite.Suite
	assertions *store.InMemoryAssertions
	documents  *ports.InMemoryDocuments
	registry   *signing.Registry
	publisher  *Publisher
	tenantID   id.TenantID
	fixedNow   time.Time
}

func TestPublicationSuite(t *testing.T) {
	suite.Run(t, new(PublicationSuite))
}

func (s *PublicationSuite) SetupTest() {
	s.tenantID = id.TenantID(uuid.New())
	s.fixedNow = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	seed := make([]byte, ed25519.SeedSize)
	copy(seed, []byte("publication-suite-fixed-seed-000"))
	s.registry = signing.NewRegistry(signing.KeyConfig{
		TenantID:  s.tenantID.String(),
		DID:       publisherTestDID,
		Kind:      signing.KeyKindLocal,
		ProofType: signing.ProofEdDSA,
		Seed:      base64.StdEncoding.EncodeToString(seed),
	})

	s.assertions = store.NewInMemoryAssertions()
	s.documents = ports.NewInMemoryDocuments()
	s.publisher = NewPublisher(
		s.assertions,
		s.documents,
		signing.NewLocalSigner(s.registry),
		s.registry,
		"https://emblem.example",
		WithPublisherClock(func() time.Time { return s.fixedNow }),
	)
}

func (s *PublicationSuite) addAssertion(revoked bool) models.Assertion {
	a := models.Assertion{
		ID:              id.NewAssertionID(),
		TenantID:        s.tenantID,
		LearnerID:       id.LearnerID(uuid.New()),
		BadgeTemplateID: id.BadgeTemplateID(uuid.New()),
		IssuedAt:        s.fixedNow.Add(-24 * time.Hour),
	}
	stored, err := s.assertions.Create(context.Background(), a)
	s.Require().NoError(err)
	if revoked {
		s.Require().NoError(s.assertions.MarkRevoked(context.Background(), stored.ID, s.fixedNow))
		stored.RevokedAt = &s.fixedNow
	}
	return stored
}

func (s *PublicationSuite) TestPublishSignedList() {
	s.addAssertion(false)
	revoked := s.addAssertion(true)
	s.addAssertion(false)

	result, err := s.publisher.Publish(context.Background(), s.tenantID)
	s.Require().NoError(err)
	s.Equal(3, result.AssertionCount)
	s.Equal(1, result.RevokedCount)
	s.Equal(s.fixedNow, result.PublishedAt)
	s.NotEmpty(result.LocationKey)

	// The published document verifies and carries the revoked bit.
	claims := s.verifyStored()
	s.Equal(publisherTestDID, claims.Issuer)

	var doc statuslist.ListCredential
	s.Require().NoError(json.Unmarshal(claims.VC, &doc))
	s.Equal(statuslist.PurposeRevocation, doc.Subject.StatusPurpose)

	bits, err := statuslist.DecodeBitstring(doc.Subject.EncodedList)
	s.Require().NoError(err)
	s.Require().NotNil(revoked.StatusListIndex)
	s.True(bits.Revoked(*revoked.StatusListIndex))
	s.GreaterOrEqual(bits.Len(), statuslist.MinimumSize)
}

// verifyStored fetches the stored status list and verifies its proof.
func (s *PublicationSuite) verifyStored() *signing.CredentialClaims {
	raw, err := s.documents.GetByKey(context.Background(), s.tenantID, statusListKey)
	s.Require().NoError(err)
	claims, err := signing.NewVerifier(s.registry).Verify(raw)
	s.Require().NoError(err)
	return claims
}

func (s *PublicationSuite) TestEmptyTenantStillPublishesValidList() {
	result, err := s.publisher.Publish(context.Background(), s.tenantID)
	s.Require().NoError(err)
	s.Equal(0, result.AssertionCount)
	s.Equal(0, result.RevokedCount)

	claims := s.verifyStored()
	var doc statuslist.ListCredential
	s.Require().NoError(json.Unmarshal(claims.VC, &doc))
	bits, err := statuslist.DecodeBitstring(doc.Subject.EncodedList)
	s.Require().NoError(err)
	s.Equal(statuslist.MinimumSize, bits.Len())
}

func (s *PublicationSuite) TestMissingSigningConfigIsNotFound() {
	unknownTenant := id.TenantID(uuid.New())
	_, err := s.publisher.Publish(context.Background(), unknownTenant)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PublicationSuite) TestWrongKeyTypeFailsFast() {
	tenant := id.TenantID(uuid.New())
	registry := signing.NewRegistry(signing.KeyConfig{
		TenantID:  tenant.String(),
		DID:       "did:web:rsa.example",
		Kind:      signing.KeyKindLocal,
		ProofType: "rsa",
	})
	publisher := NewPublisher(s.assertions, s.documents, signing.NewLocalSigner(registry), registry, "https://emblem.example")

	_, err := publisher.Publish(context.Background(), tenant)
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func (s *PublicationSuite) TestConcurrentPublishesConverge() {
	s.addAssertion(true)
	s.addAssertion(false)

	first, err := s.publisher.Publish(context.Background(), s.tenantID)
	s.Require().NoError(err)
	firstDoc, err := s.documents.GetByKey(context.Background(), s.tenantID, statusListKey)
	s.Require().NoError(err)

	second, err := s.publisher.Publish(context.Background(), s.tenantID)
	s.Require().NoError(err)
	secondDoc, err := s.documents.GetByKey(context.Background(), s.tenantID, statusListKey)
	s.Require().NoError(err)

	// Same assertion set and timestamp imply identical bytes; only the store
	// version advances.
	s.Equal(firstDoc, secondDoc)
	s.Equal(first.Version+1, second.Version)
}

func (s *PublicationSuite) TestPublishesArePerTenant() {
	ctx := context.Background()
	otherTenant := id.TenantID(uuid.New())

	seed := make([]byte, ed25519.SeedSize)
	copy(seed, []byte("publication-suite-other-seed-000"))
	baseCfg, ok := s.registry.Lookup(publisherTestDID)
	s.Require().True(ok)
	registry := signing.NewRegistry(
		baseCfg,
		signing.KeyConfig{
			TenantID:  otherTenant.String(),
			DID:       "did:web:academy.example",
			Kind:      signing.KeyKindLocal,
			ProofType: signing.ProofEdDSA,
			Seed:      base64.StdEncoding.EncodeToString(seed),
		},
	)
	publisher := NewPublisher(s.assertions, s.documents, signing.NewLocalSigner(registry), registry, "https://emblem.example",
		WithPublisherClock(func() time.Time { return s.fixedNow }))

	s.addAssertion(true)

	first, err := publisher.Publish(ctx, s.tenantID)
	s.Require().NoError(err)
	firstDoc, err := publisher.StatusList(ctx, s.tenantID)
	s.Require().NoError(err)

	// The second tenant's publish gets its own version sequence and never
	// touches the first tenant's stored list.
	otherResult, err := publisher.Publish(ctx, otherTenant)
	s.Require().NoError(err)
	s.Equal(1, otherResult.Version)
	s.Equal(first.Version, otherResult.Version)
	s.NotEqual(first.LocationKey, otherResult.LocationKey)

	unchanged, err := publisher.StatusList(ctx, s.tenantID)
	s.Require().NoError(err)
	s.Equal(firstDoc, unchanged)

	otherDoc, err := publisher.StatusList(ctx, otherTenant)
	s.Require().NoError(err)
	s.NotEqual(firstDoc, otherDoc)
}

func (s *PublicationSuite) TestStatusListBeforePublishIsNotFound() {
	_, err := s.publisher.StatusList(context.Background(), s.tenantID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
