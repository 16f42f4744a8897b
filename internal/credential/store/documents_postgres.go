package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"emblem/internal/credential/ports"
	id "emblem/pkg/domain"
	dErrors "emblem/pkg/domain-errors"
)

// PostgresDocuments stores signed credential documents append-only. Put
// writes a new version; existing rows are never updated, so a published
// document stays byte-stable for as long as it is referenced. Storage keys
// are tenant scoped, which keeps both the document and its version sequence
// private to the tenant.
type PostgresDocuments struct {
	db *sql.DB
}

// NewPostgresDocuments constructs a PostgreSQL-backed document store.
func NewPostgresDocuments(db *sql.DB) *PostgresDocuments {
	return &PostgresDocuments{db: db}
}

func (s *PostgresDocuments) Get(ctx context.Context, tenantID id.TenantID, credentialID id.CredentialID) ([]byte, error) {
	return s.GetByKey(ctx, tenantID, credentialID.String())
}

// GetByKey fetches the latest version of a document by its logical key.
func (s *PostgresDocuments) GetByKey(ctx context.Context, tenantID id.TenantID, key string) ([]byte, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM credential_documents
		WHERE key = $1 ORDER BY version DESC LIMIT 1
	`, scopedDocumentKey(tenantID, key)).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return document, nil
}

func (s *PostgresDocuments) Put(ctx context.Context, tenantID id.TenantID, key string, document []byte) (ports.Location, error) {
	stored := scopedDocumentKey(tenantID, key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.Location{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Advisory lock serializes version allocation per stored key.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('documents:' || $1))`, stored); err != nil {
		return ports.Location{}, fmt.Errorf("lock document key: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM credential_documents
		WHERE key = $1
	`, stored).Scan(&version)
	if err != nil {
		return ports.Location{}, fmt.Errorf("allocate document version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credential_documents (tenant_id, key, version, document)
		VALUES ($1, $2, $3, $4)
	`, tenantID.String(), stored, version, document)
	if err != nil {
		return ports.Location{}, fmt.Errorf("insert document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ports.Location{}, fmt.Errorf("commit document: %w", err)
	}

	return ports.Location{Key: stored, Version: version}, nil
}

// scopedDocumentKey mirrors the ports package convention: tenant UUID, slash,
// logical key.
func scopedDocumentKey(tenantID id.TenantID, key string) string {
	return tenantID.String() + "/" + key
}
