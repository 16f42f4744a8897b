package signing

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "emblem/pkg/domain-errors"
)

// Verification outcomes distinguished by the credential verification engine.
// An expired proof and an invalid proof both make the base signal non-active,
// but the engine reports them with different reasons.
var (
	ErrProofExpired = errors.New("credential proof is expired")
	ErrProofInvalid = errors.New("credential proof is invalid")
)

// Verifier checks VC-JWT proofs against the issuer's public key.
type Verifier struct {
	registry *Registry
}

// NewVerifier constructs a verifier over an explicit key registry.
func NewVerifier(registry *Registry) *Verifier {
	return &Verifier{registry: registry}
}

// Verify parses and verifies a signed credential, returning its claims.
// The issuer DID is taken from the token's iss claim and must have a local
// key config in the registry (remote-signed credentials still verify locally
// against the issuer's published key material).
func (v *Verifier) Verify(signed []byte) (*CredentialClaims, error) {
	claims := &CredentialClaims{}
	token, err := jwt.ParseWithClaims(string(signed), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrProofInvalid
		}
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, ErrProofInvalid
		}
		cfg, ok := v.registry.Lookup(iss)
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "no key material for issuer "+iss)
		}
		return cfg.PublicKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrProofExpired
		}
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, ErrProofInvalid
	}
	if !token.Valid {
		return nil, ErrProofInvalid
	}
	return claims, nil
}
