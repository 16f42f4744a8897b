// Package signing provides the gateway that signs credential documents on
// behalf of tenant issuer DIDs, plus the public verify path.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	dErrors "emblem/pkg/domain-errors"
)

// ProofType selects the proof suite used when signing a document.
type ProofType string

// ProofEdDSA is the only proof suite supported by the local signer. It
// requires Ed25519 key material.
const ProofEdDSA ProofType = "eddsa"

// KeyKind discriminates local key material from remote signer delegation.
type KeyKind string

const (
	KeyKindLocal  KeyKind = "local"
	KeyKindRemote KeyKind = "remote"
)

// KeyConfig is one tenant issuer's signing configuration.
type KeyConfig struct {
	TenantID  string    `json:"tenant_id"`
	DID       string    `json:"did"`
	Kind      KeyKind   `json:"kind"`
	ProofType ProofType `json:"proof_type"`

	// Seed is the base64-encoded Ed25519 seed for local keys.
	Seed string `json:"seed,omitempty"`
	// Endpoint is the remote signer URL for remote keys.
	Endpoint string `json:"endpoint,omitempty"`
}

// Registry holds per-DID signing configuration. It is an explicit value
// handed to components at construction time; tests build one per scenario
// without touching process state.
type Registry struct {
	byDID    map[string]KeyConfig
	byTenant map[string]KeyConfig
}

// NewRegistry builds a registry from explicit key configs.
func NewRegistry(configs ...KeyConfig) *Registry {
	r := &Registry{
		byDID:    make(map[string]KeyConfig, len(configs)),
		byTenant: make(map[string]KeyConfig, len(configs)),
	}
	for _, cfg := range configs {
		r.byDID[cfg.DID] = cfg
		if cfg.TenantID != "" {
			r.byTenant[cfg.TenantID] = cfg
		}
	}
	return r
}

// ParseRegistry decodes the SIGNING_KEYS JSON document (an array of key
// configs) into a Registry.
func ParseRegistry(raw string) (*Registry, error) {
	if raw == "" {
		return NewRegistry(), nil
	}
	var configs []KeyConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "signing key registry is not valid JSON")
	}
	return NewRegistry(configs...), nil
}

// Lookup returns the key config for a DID.
func (r *Registry) Lookup(did string) (KeyConfig, bool) {
	cfg, ok := r.byDID[did]
	return cfg, ok
}

// LookupTenant returns the key config for a tenant's issuer identity.
func (r *Registry) LookupTenant(tenantID string) (KeyConfig, bool) {
	cfg, ok := r.byTenant[tenantID]
	return cfg, ok
}

// privateKey derives the Ed25519 private key from a local key config.
func (cfg KeyConfig) privateKey() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(cfg.Seed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "signing seed is not valid base64")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, dErrors.New(dErrors.CodeConfiguration, "signing seed must be a 32-byte ed25519 seed")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// PublicKey returns the verification key for a local key config.
func (cfg KeyConfig) PublicKey() (ed25519.PublicKey, error) {
	priv, err := cfg.privateKey()
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}
