// Package token implements §4.2: minting and verifying compact EdDSA JWS
// identity tokens, and publishing the signing key as a JWK.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Issuer is the fixed token issuer string.
const Issuer = "agent-passport"

// Reason codes for verification failure, returned alongside a false result.
const (
	ReasonMissingSubject = "missing_subject"
	ReasonMissingJTI     = "missing_jti"
	ReasonMissingHandle  = "missing_handle"
	ReasonInvalidToken   = "invalid_token"
	ReasonTokenExpired   = "token_expired"
)

// Claims are the custom payload fields minted into every identity token.
type Claims struct {
	Subject string   `json:"sub"`
	Handle  string   `json:"handle"`
	Scopes  []string `json:"scopes"`
}

// MintInput describes the values needed to mint a token.
type MintInput struct {
	AgentID string
	Handle  string
	Scopes  []string
}

// Minted is the result of a mint call.
type Minted struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Minter holds the Ed25519 signing key and issues/verifies identity tokens.
// It is constructed once at startup and shared across requests; the key
// and cached JWK are immutable afterward.
type Minter struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	kid     string

	jwkOnce sync.Once
	jwk     JWK
}

// NewMinter constructs a Minter from a 32-byte Ed25519 seed and a token TTL.
func NewMinter(seed []byte, ttl time.Duration) (*Minter, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	return &Minter{
		private: priv,
		public:  pub,
		ttl:     ttl,
		kid:     kidFromPublicKey(pub),
	}, nil
}

// Mint issues a fresh identity token for the given agent.
func (m *Minter) Mint(in MintInput) (Minted, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.EdDSA, Key: m.private},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return Minted{}, fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	exp := now.Add(m.ttl)
	jti := uuid.NewString()

	scopes := in.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	registered := jwt.Claims{
		Issuer:   Issuer,
		Subject:  in.AgentID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
		ID:       jti,
	}
	custom := Claims{
		Subject: in.AgentID,
		Handle:  in.Handle,
		Scopes:  scopes,
	}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return Minted{}, fmt.Errorf("signing token: %w", err)
	}

	return Minted{Token: raw, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verified is the decoded, verified result of a token.
type Verified struct {
	AgentID   string
	Handle    string
	Scopes    []string
	JTI       string
	ExpiresAt time.Time
}

// Verify parses a compact JWS, enforces algorithm EdDSA, issuer, expiry, and
// presence of sub/jti/handle. It does not consult any revocation state; the
// caller layers that check on top.
func (m *Minter) Verify(raw string) (Verified, string, bool) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return Verified{}, ReasonInvalidToken, false
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(m.public, &registered, &custom); err != nil {
		return Verified{}, ReasonInvalidToken, false
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: Issuer,
		Time:   time.Now(),
	}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return Verified{}, ReasonTokenExpired, false
		}
		return Verified{}, ReasonInvalidToken, false
	}

	if registered.Subject == "" {
		return Verified{}, ReasonMissingSubject, false
	}
	if registered.ID == "" {
		return Verified{}, ReasonMissingJTI, false
	}
	if custom.Handle == "" {
		return Verified{}, ReasonMissingHandle, false
	}

	var exp time.Time
	if registered.Expiry != nil {
		exp = registered.Expiry.Time()
	}

	return Verified{
		AgentID:   registered.Subject,
		Handle:    custom.Handle,
		Scopes:    custom.Scopes,
		JTI:       registered.ID,
		ExpiresAt: exp,
	}, "", true
}

// UnverifiedClaims are the subset of claims extractable without verifying
// the signature. Used only for revocation bookkeeping, never for trust
// decisions.
type UnverifiedClaims struct {
	JTI       string
	ExpiresAt time.Time
}

// DecodeUnverified extracts jti and exp without checking the signature.
// Callers must treat this as unsafe and use it only to locate state keyed
// by jti (e.g. for revocation), never to authorize an action.
func DecodeUnverified(raw string) (UnverifiedClaims, bool) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return UnverifiedClaims{}, false
	}

	var registered jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&registered); err != nil {
		return UnverifiedClaims{}, false
	}

	if registered.ID == "" || registered.Expiry == nil {
		return UnverifiedClaims{}, false
	}

	return UnverifiedClaims{JTI: registered.ID, ExpiresAt: registered.Expiry.Time()}, true
}

// JWK is the public-key representation published at the discovery endpoint.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// PublicJWK returns the cached JWK representation of the signing key.
func (m *Minter) PublicJWK() JWK {
	m.jwkOnce.Do(func() {
		m.jwk = JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(m.public),
			Kid: m.kid,
			Use: "sig",
			Alg: "EdDSA",
		}
	})
	return m.jwk
}

func kidFromPublicKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)[:16]
}
