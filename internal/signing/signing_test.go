package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "emblem/pkg/domain-errors"
)

const testDID = "did:web:university.example"

func newLocalConfig(t *testing.T) KeyConfig {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	return KeyConfig{
		DID:       testDID,
		Kind:      KeyKindLocal,
		ProofType: ProofEdDSA,
		Seed:      base64.StdEncoding.EncodeToString(seed),
	}
}

func TestLocalSignAndVerify(t *testing.T) {
	registry := NewRegistry(newLocalConfig(t))
	signer := NewLocalSigner(registry)

	doc := map[string]string{"name": "Intro to Databases"}
	signed, err := signer.Sign(context.Background(), testDID, doc, ProofEdDSA)
	require.NoError(t, err)

	claims, err := NewVerifier(registry).Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, testDID, claims.Issuer)
	assert.JSONEq(t, `{"name":"Intro to Databases"}`, string(claims.VC))
}

func TestSignMissingConfig(t *testing.T) {
	signer := NewLocalSigner(NewRegistry())
	_, err := signer.Sign(context.Background(), "did:web:unknown.example", map[string]string{}, ProofEdDSA)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestSignWrongProofType(t *testing.T) {
	cfg := newLocalConfig(t)
	cfg.ProofType = "rsa"
	signer := NewLocalSigner(NewRegistry(cfg))

	_, err := signer.Sign(context.Background(), testDID, map[string]string{}, ProofEdDSA)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestSignMalformedSeed(t *testing.T) {
	cfg := newLocalConfig(t)
	cfg.Seed = base64.StdEncoding.EncodeToString([]byte("too-short"))
	signer := NewLocalSigner(NewRegistry(cfg))

	_, err := signer.Sign(context.Background(), testDID, map[string]string{}, ProofEdDSA)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestVerifyExpiredProof(t *testing.T) {
	cfg := newLocalConfig(t)
	registry := NewRegistry(cfg)

	key, err := cfg.privateKey()
	require.NoError(t, err)
	claims := CredentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testDID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)

	_, err = NewVerifier(registry).Verify([]byte(signed))
	assert.ErrorIs(t, err, ErrProofExpired)
}

func TestVerifyTamperedProof(t *testing.T) {
	registry := NewRegistry(newLocalConfig(t))
	signer := NewLocalSigner(registry)

	signed, err := signer.Sign(context.Background(), testDID, map[string]string{"a": "b"}, ProofEdDSA)
	require.NoError(t, err)

	tampered := append([]byte{}, signed...)
	tampered[len(tampered)-2] ^= 0xff
	_, err = NewVerifier(registry).Verify(tampered)
	assert.ErrorIs(t, err, ErrProofInvalid)
}

func TestRemoteSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("signed-by-remote"))
	}))
	defer srv.Close()

	registry := NewRegistry(KeyConfig{
		DID:       testDID,
		Kind:      KeyKindRemote,
		ProofType: ProofEdDSA,
		Endpoint:  srv.URL,
	})
	gateway := NewGateway(registry)

	signed, err := gateway.Sign(context.Background(), testDID, map[string]string{}, ProofEdDSA)
	require.NoError(t, err)
	assert.Equal(t, "signed-by-remote", string(signed))
}

func TestRemoteSignerFailurePropagatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	registry := NewRegistry(KeyConfig{DID: testDID, Kind: KeyKindRemote, Endpoint: srv.URL})
	signer := NewRemoteSigner(registry, srv.Client())

	_, err := signer.Sign(context.Background(), testDID, map[string]string{}, ProofEdDSA)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDownstream))
	assert.Contains(t, err.Error(), "503")
}

func TestParseRegistry(t *testing.T) {
	raw := `[{"did":"did:web:a.example","kind":"local","proof_type":"eddsa","seed":"` +
		base64.StdEncoding.EncodeToString(make([]byte, ed25519.SeedSize)) + `"}]`
	registry, err := ParseRegistry(raw)
	require.NoError(t, err)

	cfg, ok := registry.Lookup("did:web:a.example")
	require.True(t, ok)
	assert.Equal(t, KeyKindLocal, cfg.Kind)

	_, err = ParseRegistry("{broken")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}
