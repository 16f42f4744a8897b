// Package ports declares the external collaborator contracts the credential
// engine consumes. Implementations live with the surrounding infrastructure;
// memory fakes here keep the engine testable.
package ports

import (
	"context"
	"sync"

	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// Location identifies a stored document version.
type Location struct {
	Key     string
	Version int
}

// DocumentStore is the immutable object store holding signed credential
// documents. Put appends; there is no update-in-place. Revocation never
// rewrites a stored document. All keys are scoped per tenant, so two tenants
// writing the same logical key never see each other's documents or share a
// version sequence.
type DocumentStore interface {
	Get(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]byte, error)
	GetByKey(ctx context.Context, tenantID id.TenantID, key string) ([]byte, error)
	Put(ctx context.Context, tenantID id.TenantID, key string, document []byte) (Location, error)
}

// scopedKey is the canonical storage key: tenant UUID, slash, logical key.
func scopedKey(tenantID id.TenantID, key string) string {
	return tenantID.String() + "/" + key
}

// InMemoryDocuments is an in-memory document store for tests and local runs.
type InMemoryDocuments struct {
	mu        sync.RWMutex
	documents map[string][]byte
	versions  map[string]int
}

// NewInMemoryDocuments constructs an empty document store.
func NewInMemoryDocuments() *InMemoryDocuments {
	return &InMemoryDocuments{
		documents: make(map[string][]byte),
		versions:  make(map[string]int),
	}
}

func (s *InMemoryDocuments) Get(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]byte, error) {
	return s.GetByKey(ctx, tenantID, credentialID.String())
}

// GetByKey fetches the latest version of a document by its logical key (for
// example the tenant's status list). Credential documents remain addressable
// via Get.
func (s *InMemoryDocuments) GetByKey(_ context.Context, tenantID id.TenantID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[scopedKey(tenantID, key)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	return doc, nil
}

func (s *InMemoryDocuments) Put(_ context.Context, tenantID id.TenantID, key string, document []byte) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := scopedKey(tenantID, key)
	s.versions[stored]++
	s.documents[stored] = document
	return Location{Key: stored, Version: s.versions[stored]}, nil
}
