// Package agent implements §4.4: agent registration and key lifecycle, plus
// the challenge-issuance and identity-token endpoints that sit on top of
// the challenge manager and token minter.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/audit"
	"github.com/agentpassport/passport/internal/store"
	"github.com/agentpassport/passport/internal/telemetry"
	"github.com/agentpassport/passport/pkg/challenge"
	"github.com/agentpassport/passport/pkg/signverify"
	"github.com/agentpassport/passport/pkg/token"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_-]{3,64}$`)

// ValidHandle reports whether handle matches the registration grammar.
func ValidHandle(handle string) bool { return handlePattern.MatchString(handle) }

// Service implements agent registration and key lifecycle.
type Service struct {
	agents    *store.AgentStore
	challenge *challenge.Manager
	minter    *token.Minter
	audit     *audit.Writer
}

// New creates an agent Service.
func New(agents *store.AgentStore, cm *challenge.Manager, minter *token.Minter, w *audit.Writer) *Service {
	return &Service{agents: agents, challenge: cm, minter: minter, audit: w}
}

// Registered is the response to a successful registration.
type Registered struct {
	AgentID uuid.UUID
	Handle  string
	KeyID   uuid.UUID
}

// Register creates an agent with its first key in one transaction.
func (s *Service) Register(ctx context.Context, handle, publicKeyB64, clientAddr string) (Registered, error) {
	if !ValidHandle(handle) {
		return Registered{}, apierror.Validation(apierror.CodeValidationError, "handle must be 3-64 chars of [a-z0-9_-]")
	}
	if !signverify.IsValidPublicKey(publicKeyB64) {
		return Registered{}, apierror.Validation(apierror.CodeInvalidPublicKey, "public key must be 32 raw bytes, base64-encoded")
	}

	agent, key, err := s.agents.CreateWithKey(ctx, handle, publicKeyB64)
	if errors.Is(err, store.ErrHandleTaken) {
		return Registered{}, apierror.Conflict(apierror.CodeHandleTaken, "handle is already taken")
	}
	if err != nil {
		return Registered{}, apierror.Internal(apierror.CodeInternalError, "registering agent").Wrap(err)
	}

	if s.audit != nil {
		detail, _ := json.Marshal(map[string]string{"handle": handle})
		s.audit.LogAudit(store.AuditEvent{
			EventType:  "AGENT_REGISTERED",
			ActorKind:  store.ActorAgent,
			ActorID:    agent.ID.String(),
			ClientAddr: clientAddr,
			Metadata:   detail,
		})
	}

	return Registered{AgentID: agent.ID, Handle: agent.Handle, KeyID: key.ID}, nil
}

// IssueChallenge delegates to the challenge manager.
func (s *Service) IssueChallenge(ctx context.Context, agentID uuid.UUID) (challenge.Issued, error) {
	return s.challenge.Issue(ctx, agentID)
}

// IdentityTokenResult is the response to a successful token exchange.
type IdentityTokenResult struct {
	Token     string
	ExpiresAt time.Time
}

// RedeemChallengeForToken redeems the challenge (§5: mark-used happens-before
// mint happens-before audit) and mints an identity token for the agent.
func (s *Service) RedeemChallengeForToken(ctx context.Context, agentID, challengeID uuid.UUID, signatureB64 string, scopes []string, clientAddr string) (IdentityTokenResult, error) {
	redeemed, err := s.challenge.Redeem(ctx, agentID, challengeID, signatureB64, clientAddr)
	if err != nil {
		return IdentityTokenResult{}, err
	}

	minted, err := s.minter.Mint(token.MintInput{
		AgentID: redeemed.Agent.ID.String(),
		Handle:  redeemed.Agent.Handle,
		Scopes:  scopes,
	})
	if err != nil {
		return IdentityTokenResult{}, apierror.Internal(apierror.CodeInternalError, "minting token").Wrap(err)
	}

	telemetry.TokensMintedTotal.Inc()

	if s.audit != nil {
		s.audit.LogAudit(store.AuditEvent{
			EventType:  "IDENTITY_TOKEN_ISSUED",
			ActorKind:  store.ActorAgent,
			ActorID:    redeemed.Agent.ID.String(),
			ClientAddr: clientAddr,
		})
	}

	return IdentityTokenResult{Token: minted.Token, ExpiresAt: minted.ExpiresAt}, nil
}

// AddKey appends a new key to an agent, requiring the caller already
// authenticated as that agent (enforced by the HTTP edge).
func (s *Service) AddKey(ctx context.Context, agentID uuid.UUID, publicKeyB64, clientAddr string) (store.AgentKey, error) {
	if !signverify.IsValidPublicKey(publicKeyB64) {
		return store.AgentKey{}, apierror.Validation(apierror.CodeInvalidPublicKey, "public key must be 32 raw bytes, base64-encoded")
	}

	key, err := s.agents.AddKey(ctx, agentID, publicKeyB64)
	if err != nil {
		return store.AgentKey{}, apierror.Internal(apierror.CodeInternalError, "adding agent key").Wrap(err)
	}

	if s.audit != nil {
		s.audit.LogAudit(store.AuditEvent{
			EventType:  "AGENT_KEY_ADDED",
			ActorKind:  store.ActorAgent,
			ActorID:    agentID.String(),
			ClientAddr: clientAddr,
		})
	}

	return key, nil
}

// RevokeKey revokes an existing, not-yet-revoked key.
func (s *Service) RevokeKey(ctx context.Context, agentID, keyID uuid.UUID, clientAddr string) error {
	err := s.agents.RevokeKey(ctx, agentID, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return apierror.NotFound(apierror.CodeKeyNotFound, "key not found")
	}
	if errors.Is(err, store.ErrAlreadyRevoked) {
		return apierror.Conflict(apierror.CodeKeyAlreadyRevoked, "key already revoked")
	}
	if err != nil {
		return apierror.Internal(apierror.CodeInternalError, "revoking agent key").Wrap(err)
	}

	if s.audit != nil {
		s.audit.LogAudit(store.AuditEvent{
			EventType:  "AGENT_KEY_REVOKED",
			ActorKind:  store.ActorAgent,
			ActorID:    agentID.String(),
			ClientAddr: clientAddr,
		})
	}

	return nil
}
