package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "emblem/pkg/domain-errors"
)

// Gateway signs a credential document on behalf of an issuer DID.
// Failures are typed through domain error codes: not_found for a missing key
// config, configuration_error for a key/proof-suite mismatch, and
// downstream_error for a remote signer failure.
type Gateway interface {
	Sign(ctx context.Context, did string, document any, proofType ProofType) ([]byte, error)
}

// CredentialClaims is the VC-JWT claim set for signed documents. The document
// itself rides in the vc claim; iss carries the issuer DID.
type CredentialClaims struct {
	VC json.RawMessage `json:"vc"`
	jwt.RegisteredClaims
}

// LocalSigner signs with Ed25519 key material held in the registry.
type LocalSigner struct {
	registry *Registry
	now      func() time.Time
}

// NewLocalSigner constructs a signer over an explicit key registry.
func NewLocalSigner(registry *Registry) *LocalSigner {
	return &LocalSigner{registry: registry, now: time.Now}
}

// Sign produces a VC-JWT over the document. The registry config must be local
// and must carry Ed25519 material matching the requested proof type.
func (s *LocalSigner) Sign(_ context.Context, did string, document any, proofType ProofType) ([]byte, error) {
	cfg, ok := s.registry.Lookup(did)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no signing configuration for issuer "+did)
	}
	if cfg.Kind != KeyKindLocal {
		return nil, dErrors.New(dErrors.CodeConfiguration, "issuer "+did+" is not backed by a local key")
	}
	if proofType != ProofEdDSA || cfg.ProofType != proofType {
		return nil, dErrors.New(dErrors.CodeConfiguration,
			fmt.Sprintf("proof type %q requires key type %q, issuer %s has %q", proofType, ProofEdDSA, did, cfg.ProofType))
	}

	key, err := cfg.privateKey()
	if err != nil {
		return nil, err
	}

	docBytes, err := json.Marshal(document)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal document for signing")
	}

	claims := CredentialClaims{
		VC: docBytes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   did,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign credential")
	}
	return []byte(signed), nil
}

// RemoteSigner delegates signing to an external signer service over HTTP.
type RemoteSigner struct {
	registry *Registry
	client   *http.Client
}

// NewRemoteSigner constructs a remote-backed signer.
func NewRemoteSigner(registry *Registry, client *http.Client) *RemoteSigner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteSigner{registry: registry, client: client}
}

type remoteSignRequest struct {
	DID       string          `json:"did"`
	ProofType ProofType       `json:"proof_type"`
	Document  json.RawMessage `json:"document"`
}

// Sign posts the document to the configured endpoint and returns the signed
// bytes. Non-2xx responses surface as downstream errors carrying the remote
// status.
func (s *RemoteSigner) Sign(ctx context.Context, did string, document any, proofType ProofType) ([]byte, error) {
	cfg, ok := s.registry.Lookup(did)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no signing configuration for issuer "+did)
	}
	if cfg.Kind != KeyKindRemote || cfg.Endpoint == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "issuer "+did+" has no remote signer endpoint")
	}

	docBytes, err := json.Marshal(document)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal document for signing")
	}
	body, err := json.Marshal(remoteSignRequest{DID: did, ProofType: proofType, Document: docBytes})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal sign request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build sign request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDownstream, "remote signer unreachable")
	}
	defer resp.Body.Close()

	signed, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDownstream, "read remote signer response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dErrors.New(dErrors.CodeDownstream,
			fmt.Sprintf("remote signer returned status %d", resp.StatusCode))
	}
	return signed, nil
}

// GatewayForRegistry routes each DID to the local or remote signer based on
// its key kind.
type GatewayForRegistry struct {
	registry *Registry
	local    *LocalSigner
	remote   *RemoteSigner
}

// NewGateway builds the routing gateway over one registry.
func NewGateway(registry *Registry) *GatewayForRegistry {
	return &GatewayForRegistry{
		registry: registry,
		local:    NewLocalSigner(registry),
		remote:   NewRemoteSigner(registry, nil),
	}
}

func (g *GatewayForRegistry) Sign(ctx context.Context, did string, document any, proofType ProofType) ([]byte, error) {
	cfg, ok := g.registry.Lookup(did)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no signing configuration for issuer "+did)
	}
	if cfg.Kind == KeyKindRemote {
		return g.remote.Sign(ctx, did, document, proofType)
	}
	return g.local.Sign(ctx, did, document, proofType)
}
