package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"emblem/internal/credential/models"
	"emblem/internal/credential/ports"
	"emblem/internal/credential/service"
	"emblem/internal/credential/store"
	"emblem/internal/signing"
	id "emblem/pkg/domain"
)

const (
	handlerTestDID      = "did:web:college.example"
	handlerTestOtherDID = "did:web:academy.example"
)

// CredentialHandlerSuite drives the verify, document, status-list, and
// lifecycle endpoints over HTTP against real services and memory stores.
type CredentialHandlerSuite struct {
	suite.Suite
	router      *chi.Mux
	assertions  *store.InMemoryAssertions
	lifecycle   *store.InMemoryLifecycle
	documents   *ports.InMemoryDocuments
	signer      *signing.LocalSigner
	tenantID    id.TenantID
	otherTenant id.TenantID
}

func TestCredentialHandlerSuite(t *testing.T) {
	suite.Run(t, new(CredentialHandlerSuite))
}

func (s *CredentialHandlerSuite) SetupTest() {
	s.tenantID = id.TenantID(uuid.New())
	s.otherTenant = id.TenantID(uuid.New())

	seed := make([]byte, ed25519.SeedSize)
	copy(seed, []byte("credential-handler-fixed-seed-00"))
	otherSeed := make([]byte, ed25519.SeedSize)
	copy(otherSeed, []byte("credential-handler-other-seed-00"))
	registry := signing.NewRegistry(
		signing.KeyConfig{
			TenantID:  s.tenantID.String(),
			DID:       handlerTestDID,
			Kind:      signing.KeyKindLocal,
			ProofType: signing.ProofEdDSA,
			Seed:      base64.StdEncoding.EncodeToString(seed),
		},
		signing.KeyConfig{
			TenantID:  s.otherTenant.String(),
			DID:       handlerTestOtherDID,
			Kind:      signing.KeyKindLocal,
			ProofType: signing.ProofEdDSA,
			Seed:      base64.StdEncoding.EncodeToString(otherSeed),
		},
	)

	s.assertions = store.NewInMemoryAssertions()
	s.lifecycle = store.NewInMemoryLifecycle()
	s.documents = ports.NewInMemoryDocuments()
	s.signer = signing.NewLocalSigner(registry)

	logger := slog.New(slog.DiscardHandler)
	engine := service.NewEngine(s.assertions, s.lifecycle, s.documents, signing.NewVerifier(registry))
	publisher := service.NewPublisher(s.assertions, s.documents, s.signer, registry, "https://emblem.example")
	lifecycleSvc := service.NewLifecycle(s.assertions, s.lifecycle, nil)

	s.router = chi.NewRouter()
	New(engine, publisher, lifecycleSvc, logger).Register(s.router)
}

func (s *CredentialHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// issue stores a signed assertion for a tenant and returns it.
func (s *CredentialHandlerSuite) issue(tenantID id.TenantID, did string) models.Assertion {
	ctx := context.Background()
	stored, err := s.assertions.Create(ctx, models.Assertion{
		ID:              id.NewAssertionID(),
		TenantID:        tenantID,
		LearnerID:       id.LearnerID(uuid.New()),
		BadgeTemplateID: id.BadgeTemplateID(uuid.New()),
		IssuedAt:        time.Now().Add(-time.Hour),
	})
	s.Require().NoError(err)

	doc := map[string]any{"badge": "Database Fundamentals"}
	signed, err := s.signer.Sign(ctx, did, doc, signing.ProofEdDSA)
	s.Require().NoError(err)
	_, err = s.documents.Put(ctx, tenantID, stored.ID.String(), signed)
	s.Require().NoError(err)
	return stored
}

func (s *CredentialHandlerSuite) TestVerifyActiveCredential() {
	assertion := s.issue(s.tenantID, handlerTestDID)

	rec := s.do(http.MethodGet, "/credentials/"+assertion.ID.String()+"/verify", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var result models.VerifyResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(models.StateActive, result.State)
}

func (s *CredentialHandlerSuite) TestDocumentCarriesMergedState() {
	assertion := s.issue(s.tenantID, handlerTestDID)

	rec := s.do(http.MethodGet, "/credentials/"+assertion.ID.String()+"/document", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var body struct {
		Credential string              `json:"credential"`
		Status     models.VerifyResult `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.NotEmpty(body.Credential)
	s.Equal(models.StateActive, body.Status.State)

	// Revoke through the lifecycle endpoint; the raw document fetch now
	// reports the revoked state while the stored bytes stay untouched.
	rec = s.do(http.MethodPost, "/assertions/"+assertion.ID.String()+"/lifecycle", map[string]string{
		"state":      "revoked",
		"reasonCode": "academic_integrity",
		"actorId":    uuid.NewString(),
	})
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/credentials/"+assertion.ID.String()+"/document", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var after struct {
		Credential string              `json:"credential"`
		Status     models.VerifyResult `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &after))
	s.Equal(body.Credential, after.Credential)
	s.Equal(models.StateRevoked, after.Status.State)
}

func (s *CredentialHandlerSuite) TestStatusListNotFoundBeforePublish() {
	rec := s.do(http.MethodGet, "/tenants/"+s.tenantID.String()+"/status-list", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *CredentialHandlerSuite) TestStatusListIsServedPerTenant() {
	s.issue(s.tenantID, handlerTestDID)

	rec := s.do(http.MethodPost, "/tenants/"+s.tenantID.String()+"/status-list", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/tenants/"+s.otherTenant.String()+"/status-list", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	first := s.do(http.MethodGet, "/tenants/"+s.tenantID.String()+"/status-list", nil)
	s.Require().Equal(http.StatusOK, first.Code)
	s.Equal("application/jwt", first.Header().Get("Content-Type"))

	second := s.do(http.MethodGet, "/tenants/"+s.otherTenant.String()+"/status-list", nil)
	s.Require().Equal(http.StatusOK, second.Code)

	// Each tenant serves its own signed list.
	s.NotEqual(first.Body.String(), second.Body.String())
	s.NotEmpty(first.Body.String())
}

func (s *CredentialHandlerSuite) TestMalformedCredentialIDIsBadRequest() {
	rec := s.do(http.MethodGet, "/credentials/not-a-uuid/document", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}
