// Package verification implements §4.8: the token-verification, RFC 7662
// introspection, and revocation calls apps make against identity tokens.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/audit"
	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/store"
	"github.com/agentpassport/passport/internal/telemetry"
	"github.com/agentpassport/passport/pkg/risk"
	"github.com/agentpassport/passport/pkg/token"
)

// HumanVerificationLookup reads the human-verification linking subsystem, a
// side data store owned by a different service. It is consulted on a
// best-effort basis and any failure is swallowed.
type HumanVerificationLookup interface {
	Lookup(ctx context.Context, agentID string) (any, error)
}

// NoopHumanVerification always reports no linked verification. It is the
// default when no linking subsystem is configured.
type NoopHumanVerification struct{}

// Lookup always returns nil, nil.
func (NoopHumanVerification) Lookup(ctx context.Context, agentID string) (any, error) {
	return nil, nil
}

const minRevokeTTL = time.Second

// AgentLookup is the subset of the agent store the verification service
// needs, reified as an interface per the ambient-singleton design note so
// tests can substitute a fake rather than a live durable store.
type AgentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (store.Agent, error)
}

// Service implements verify/introspect/revoke.
type Service struct {
	minter      *token.Minter
	agents      AgentLookup
	ephemeral   ephemeral.Store
	risk        *risk.Engine
	audit       *audit.Writer
	humanVerify HumanVerificationLookup
}

// New creates a verification Service. humanVerify may be nil, in which case
// NoopHumanVerification is used.
func New(minter *token.Minter, agents AgentLookup, eph ephemeral.Store, r *risk.Engine, w *audit.Writer, humanVerify HumanVerificationLookup) *Service {
	if humanVerify == nil {
		humanVerify = NoopHumanVerification{}
	}
	return &Service{minter: minter, agents: agents, ephemeral: eph, risk: r, audit: w, humanVerify: humanVerify}
}

// Result is the outcome of a verify call.
type Result struct {
	Valid             bool
	Reason            string
	AgentID           string
	Handle            string
	Scopes            []string
	ExpiresAt         time.Time
	Risk              risk.Assessment
	HumanVerification any
}

func revokedKey(jti string) string { return fmt.Sprintf("revoked:%s", jti) }

// Verify implements §4.8's verify(token, app_id, ip) in its specified order:
// signature+expiry, then revocation (fail-open on ephemeral outage), then
// agent lookup, then activity/risk, then suspension, then counters.
func (s *Service) Verify(ctx context.Context, appID uuid.UUID, rawToken, clientAddr string) Result {
	verified, reason, ok := s.minter.Verify(rawToken)
	if !ok {
		s.logVerification(ctx, appID, nil, store.OutcomeInvalid, reason, clientAddr)
		return Result{Valid: false, Reason: reasonForInvalidToken(reason)}
	}

	if _, revoked, err := s.ephemeral.Get(ctx, revokedKey(verified.JTI)); err == nil && revoked {
		s.logVerification(ctx, appID, &verified.AgentID, store.OutcomeInvalid, "token_revoked", clientAddr)
		return Result{Valid: false, Reason: "token_revoked"}
	}

	agentID, err := uuid.Parse(verified.AgentID)
	if err != nil {
		s.logVerification(ctx, appID, nil, store.OutcomeInvalid, "agent_not_found", clientAddr)
		return Result{Valid: false, Reason: "agent_not_found"}
	}

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		s.logVerification(ctx, appID, &verified.AgentID, store.OutcomeInvalid, "agent_not_found", clientAddr)
		return Result{Valid: false, Reason: "agent_not_found"}
	}

	s.risk.RecordActivity(ctx, agentID)
	assessment := s.risk.Compute(ctx, agentID, agent.Status == store.AgentSuspended, agent.CreatedAt)
	s.risk.PersistSnapshot(ctx, agentID, assessment)
	telemetry.RiskScoreObserved.Observe(float64(assessment.Score))

	if agent.Status != store.AgentActive {
		s.risk.RecordInvalidAttempt(ctx, agentID)
		s.logVerification(ctx, appID, &verified.AgentID, store.OutcomeInvalid, "agent_suspended", clientAddr)
		return Result{Valid: false, Reason: "agent_suspended", Risk: assessment}
	}

	s.risk.RecordValidAttempt(ctx, agentID)

	humanVerification, err := s.humanVerify.Lookup(ctx, verified.AgentID)
	if err != nil {
		humanVerification = nil
	}

	s.logVerification(ctx, appID, &verified.AgentID, store.OutcomeValid, "", clientAddr)

	return Result{
		Valid:             true,
		AgentID:           verified.AgentID,
		Handle:            verified.Handle,
		Scopes:            verified.Scopes,
		ExpiresAt:         verified.ExpiresAt,
		Risk:              assessment,
		HumanVerification: humanVerification,
	}
}

func reasonForInvalidToken(reason string) string {
	if reason == token.ReasonTokenExpired {
		return "token_expired"
	}
	return "token_invalid"
}

// Introspection is an RFC 7662-shaped response.
type Introspection struct {
	Active   bool
	AgentID  string
	Handle   string
	Scopes   []string
	Expiry   time.Time
	ClientID string
}

// Introspect follows RFC 7662: inactive unless the signature verifies and
// the agent exists and is active.
func (s *Service) Introspect(ctx context.Context, appID uuid.UUID, rawToken string) Introspection {
	verified, _, ok := s.minter.Verify(rawToken)
	if !ok {
		return Introspection{Active: false}
	}

	agentID, err := uuid.Parse(verified.AgentID)
	if err != nil {
		return Introspection{Active: false}
	}

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil || agent.Status != store.AgentActive {
		return Introspection{Active: false}
	}

	return Introspection{
		Active:   true,
		AgentID:  verified.AgentID,
		Handle:   verified.Handle,
		Scopes:   verified.Scopes,
		Expiry:   verified.ExpiresAt,
		ClientID: appID.String(),
	}
}

// Revocation is the outcome of a revoke call.
type Revocation struct {
	Revoked   bool
	JTI       string
	ExpiresAt time.Time
}

// ErrRedisUnavailable is returned when revocation cannot be committed to the
// ephemeral store; revocation must be durable there to be effective, so this
// path fails closed rather than silently succeeding.
var ErrRedisUnavailable = fmt.Errorf("redis_unavailable")

// ErrInvalidToken is returned when jti/exp cannot be recovered from the
// token even without verifying its signature.
var ErrInvalidToken = fmt.Errorf("invalid_token")

// Revoke decodes the token without verifying its signature to recover jti
// and exp, then sets a revocation marker with TTL = max(1s, exp-now).
func (s *Service) Revoke(ctx context.Context, appID uuid.UUID, rawToken, clientAddr string) (Revocation, error) {
	claims, ok := token.DecodeUnverified(rawToken)
	if !ok {
		return Revocation{}, ErrInvalidToken
	}

	ttl := time.Until(claims.ExpiresAt)
	if ttl < minRevokeTTL {
		ttl = minRevokeTTL
	}

	if err := s.ephemeral.Set(ctx, revokedKey(claims.JTI), "1", ttl); err != nil {
		return Revocation{}, ErrRedisUnavailable
	}

	telemetry.TokensRevokedTotal.Inc()

	if s.audit != nil {
		s.audit.LogAudit(store.AuditEvent{
			EventType:  "TOKEN_REVOKED",
			ActorKind:  store.ActorApp,
			ActorID:    appID.String(),
			ClientAddr: clientAddr,
		})
	}

	return Revocation{Revoked: true, JTI: claims.JTI, ExpiresAt: claims.ExpiresAt}, nil
}

func (s *Service) logVerification(ctx context.Context, appID uuid.UUID, agentID *string, outcome store.VerificationOutcome, reason, clientAddr string) {
	telemetry.VerificationsTotal.WithLabelValues(string(outcome)).Inc()

	if s.audit == nil {
		return
	}
	var aid *uuid.UUID
	if agentID != nil {
		if parsed, err := uuid.Parse(*agentID); err == nil {
			aid = &parsed
		}
	}
	s.audit.LogVerification(store.VerificationEvent{
		AppID:      appID,
		AgentID:    aid,
		Outcome:    outcome,
		Reason:     reason,
		ClientAddr: clientAddr,
	})
}
