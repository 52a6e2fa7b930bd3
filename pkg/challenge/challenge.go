// Package challenge implements §4.3: issuing single-use nonces and
// redeeming a signature over that nonce as proof of key possession.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/audit"
	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/store"
	"github.com/agentpassport/passport/pkg/signverify"
)

const nonceBytes = 32

// Manager issues and redeems challenges.
type Manager struct {
	challenges *store.ChallengeStore
	agents     *store.AgentStore
	ephemeral  ephemeral.Store
	audit      *audit.Writer
	ttl        time.Duration
}

// New creates a challenge Manager.
func New(challenges *store.ChallengeStore, agents *store.AgentStore, eph ephemeral.Store, w *audit.Writer, ttl time.Duration) *Manager {
	return &Manager{challenges: challenges, agents: agents, ephemeral: eph, audit: w, ttl: ttl}
}

// Issued is the response to a successful Issue call.
type Issued struct {
	ChallengeID uuid.UUID
	Nonce       string
	ExpiresAt   time.Time
}

// Issue generates and persists a fresh challenge for agentID.
func (m *Manager) Issue(ctx context.Context, agentID uuid.UUID) (Issued, error) {
	agent, err := m.agents.GetByID(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return Issued{}, apierror.NotFound(apierror.CodeAgentNotFound, "agent not found")
	}
	if err != nil {
		return Issued{}, apierror.Internal(apierror.CodeInternalError, "loading agent").Wrap(err)
	}
	if agent.Status == store.AgentSuspended {
		return Issued{}, apierror.Forbidden(apierror.CodeAgentSuspended, "agent is suspended")
	}

	nonce, err := randomNonce()
	if err != nil {
		return Issued{}, apierror.Internal(apierror.CodeInternalError, "generating nonce").Wrap(err)
	}

	expiresAt := time.Now().Add(m.ttl)
	c, err := m.challenges.Create(ctx, agentID, nonce, expiresAt)
	if err != nil {
		return Issued{}, apierror.Internal(apierror.CodeInternalError, "persisting challenge").Wrap(err)
	}

	if err := m.ephemeral.Set(ctx, challengeKey(c.ID), nonce, time.Until(expiresAt)); err != nil {
		// Degraded: the durable row is authoritative; the ephemeral mirror
		// is only a fast-path lookup convenience, so we proceed.
		_ = err
	}

	return Issued{ChallengeID: c.ID, Nonce: nonce, ExpiresAt: expiresAt}, nil
}

// Redeemed is the response to a successful Redeem call.
type Redeemed struct {
	Agent store.Agent
}

// Redeem verifies the signature over the nonce and marks the challenge used.
// Every rejection is audited as TOKEN_ISSUE_FAILED with a reason code; store
// errors are returned as internal errors without an audit event.
func (m *Manager) Redeem(ctx context.Context, agentID, challengeID uuid.UUID, signatureB64, clientAddr string) (Redeemed, error) {
	fail := func(reason string, apiErr *apierror.Error) (Redeemed, error) {
		if m.audit != nil {
			m.audit.LogAudit(store.AuditEvent{
				EventType:  "TOKEN_ISSUE_FAILED",
				ActorKind:  store.ActorAgent,
				ActorID:    agentID.String(),
				ClientAddr: clientAddr,
				Metadata:   []byte(`{"reason":"` + reason + `"}`),
			})
		}
		return Redeemed{}, apiErr
	}

	c, err := m.challenges.Get(ctx, challengeID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("challenge_not_found", apierror.NotFound(apierror.CodeChallengeNotFound, "challenge not found"))
	}
	if err != nil {
		return Redeemed{}, apierror.Internal(apierror.CodeInternalError, "loading challenge").Wrap(err)
	}

	if c.AgentID != agentID {
		// Surfaced identically to "not found" so a mismatched agent can't
		// distinguish "unknown" from "someone else's."
		return fail("challenge_agent_mismatch", apierror.NotFound(apierror.CodeChallengeNotFound, "challenge not found"))
	}
	if c.UsedAt != nil {
		return fail("challenge_already_used", apierror.Conflict(apierror.CodeChallengeAlreadyUsed, "challenge already used"))
	}
	if time.Now().After(c.ExpiresAt) {
		return fail("challenge_expired", apierror.Conflict(apierror.CodeChallengeExpired, "challenge expired"))
	}

	agent, err := m.agents.GetByID(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("challenge_not_found", apierror.NotFound(apierror.CodeChallengeNotFound, "challenge not found"))
	}
	if err != nil {
		return Redeemed{}, apierror.Internal(apierror.CodeInternalError, "loading agent").Wrap(err)
	}
	if agent.Status == store.AgentSuspended {
		return fail("agent_suspended", apierror.Forbidden(apierror.CodeAgentSuspended, "agent is suspended"))
	}

	keys, err := m.agents.ActiveKeys(ctx, agentID)
	if err != nil {
		return Redeemed{}, apierror.Internal(apierror.CodeInternalError, "loading agent keys").Wrap(err)
	}
	if len(keys) == 0 {
		return fail("no_active_keys", apierror.Validation(apierror.CodeNoActiveKeys, "agent has no active keys"))
	}

	verified := false
	for _, k := range keys {
		if signverify.VerifyString(signatureB64, c.Nonce, k.PublicKey) {
			verified = true
			break
		}
	}
	if !verified {
		return fail("invalid_signature", apierror.Auth(apierror.CodeInvalidSignature, "signature does not verify"))
	}

	if err := m.challenges.MarkUsed(ctx, challengeID); err != nil {
		if errors.Is(err, store.ErrAlreadyUsed) {
			return fail("challenge_already_used", apierror.Conflict(apierror.CodeChallengeAlreadyUsed, "challenge already used"))
		}
		return Redeemed{}, apierror.Internal(apierror.CodeInternalError, "marking challenge used").Wrap(err)
	}

	_ = m.ephemeral.Del(ctx, challengeKey(challengeID))

	return Redeemed{Agent: agent}, nil
}

func challengeKey(id uuid.UUID) string { return "challenge:" + id.String() }

func randomNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
