package token

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMinter(t *testing.T, ttl time.Duration) *Minter {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m, err := NewMinter(priv.Seed(), ttl)
	require.NoError(t, err)
	return m
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	m := newTestMinter(t, time.Hour)

	minted, err := m.Mint(MintInput{AgentID: "agent-1", Handle: "alpha", Scopes: []string{"read"}})
	require.NoError(t, err)
	require.NotEmpty(t, minted.Token)
	require.Equal(t, time.Hour, minted.ExpiresAt.Sub(minted.IssuedAt).Round(time.Second))

	verified, reason, ok := m.Verify(minted.Token)
	require.True(t, ok, "reason: %s", reason)
	require.Equal(t, "agent-1", verified.AgentID)
	require.Equal(t, "alpha", verified.Handle)
	require.Equal(t, []string{"read"}, verified.Scopes)
	require.Equal(t, minted.JTI, verified.JTI)
}

func TestMintDefaultsEmptyScopes(t *testing.T) {
	m := newTestMinter(t, time.Hour)

	minted, err := m.Mint(MintInput{AgentID: "agent-1", Handle: "alpha"})
	require.NoError(t, err)

	verified, _, ok := m.Verify(minted.Token)
	require.True(t, ok)
	require.Empty(t, verified.Scopes)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	m := newTestMinter(t, time.Hour)
	minted, err := m.Mint(MintInput{AgentID: "agent-1", Handle: "alpha"})
	require.NoError(t, err)

	tampered := minted.Token[:len(minted.Token)-2] + "xx"
	_, reason, ok := m.Verify(tampered)
	require.False(t, ok)
	require.Equal(t, ReasonInvalidToken, reason)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newTestMinter(t, -time.Second)
	minted, err := m.Mint(MintInput{AgentID: "agent-1", Handle: "alpha"})
	require.NoError(t, err)

	_, reason, ok := m.Verify(minted.Token)
	require.False(t, ok)
	require.Equal(t, ReasonTokenExpired, reason)
}

func TestVerifyRejectsWrongIssuerKey(t *testing.T) {
	m1 := newTestMinter(t, time.Hour)
	m2 := newTestMinter(t, time.Hour)

	minted, err := m1.Mint(MintInput{AgentID: "agent-1", Handle: "alpha"})
	require.NoError(t, err)

	_, reason, ok := m2.Verify(minted.Token)
	require.False(t, ok)
	require.Equal(t, ReasonInvalidToken, reason)
}

func TestDecodeUnverified(t *testing.T) {
	m := newTestMinter(t, time.Hour)
	minted, err := m.Mint(MintInput{AgentID: "agent-1", Handle: "alpha"})
	require.NoError(t, err)

	claims, ok := DecodeUnverified(minted.Token)
	require.True(t, ok)
	require.Equal(t, minted.JTI, claims.JTI)
	require.WithinDuration(t, minted.ExpiresAt, claims.ExpiresAt, time.Second)
}

func TestDecodeUnverifiedRejectsGarbage(t *testing.T) {
	_, ok := DecodeUnverified("not.a.jwt")
	require.False(t, ok)
}

func TestPublicJWK(t *testing.T) {
	m := newTestMinter(t, time.Hour)
	jwk := m.PublicJWK()

	require.Equal(t, "OKP", jwk.Kty)
	require.Equal(t, "Ed25519", jwk.Crv)
	require.Equal(t, "EdDSA", jwk.Alg)
	require.NotEmpty(t, jwk.X)
	require.NotEmpty(t, jwk.Kid)

	again := m.PublicJWK()
	require.Equal(t, jwk, again)
}
