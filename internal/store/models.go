// Package store is the Identity Store (spec component, durable state):
// agents, agent keys, challenges, apps, app keys, audit events,
// verification events, and risk snapshots. Like the teacher's apikey
// package, it talks to Postgres with hand-written SQL against a shared
// *pgxpool.Pool rather than a generated query layer.
package store

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle status of an Agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
)

// Agent is a registered autonomous principal.
type Agent struct {
	ID        uuid.UUID
	Handle    string
	Status    AgentStatus
	CreatedAt time.Time
}

// AgentKey is one Ed25519 public key owned by an Agent.
type AgentKey struct {
	ID         uuid.UUID
	AgentID    uuid.UUID
	PublicKey  string // base64, 32 raw bytes
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been revoked.
func (k AgentKey) Revoked() bool { return k.RevokedAt != nil }

// Challenge is a single-use nonce issued to prove key possession.
type Challenge struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	Nonce     string // base64, >=32 raw bytes
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Redeemable reports whether the challenge may still be redeemed at now.
func (c Challenge) Redeemable(now time.Time) bool {
	return c.UsedAt == nil && !now.After(c.ExpiresAt)
}

// AppStatus is the lifecycle status of an App.
type AppStatus string

const (
	AppActive    AppStatus = "active"
	AppSuspended AppStatus = "suspended"
)

// App is a server-side consumer of verification calls.
type App struct {
	ID            uuid.UUID
	Name          string
	Description   string
	OwnerUserID   uuid.UUID
	Status        AppStatus
	AllowedScopes []string
	CreatedAt     time.Time
}

// AppKeyStatus is the lifecycle status of an AppKey.
type AppKeyStatus string

const (
	AppKeyActive  AppKeyStatus = "active"
	AppKeyRevoked AppKeyStatus = "revoked"
)

// AppKey is a hashed secret credential owned by an App.
type AppKey struct {
	ID         uuid.UUID
	AppID      uuid.UUID
	Prefix     string // first 12 chars of the secret
	SecretHash string // encoded argon2id hash
	Status     AppKeyStatus
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// ActorKind identifies who performed an audited action.
type ActorKind string

const (
	ActorAgent      ActorKind = "agent"
	ActorApp        ActorKind = "app"
	ActorPortalUser ActorKind = "portal_user"
	ActorSystem     ActorKind = "system"
)

// AuditEvent is an append-only record of a terminal service action.
type AuditEvent struct {
	ID         uuid.UUID
	EventType  string
	ActorKind  ActorKind
	ActorID    string
	ClientAddr string
	Metadata   []byte // JSON
	CreatedAt  time.Time
}

// VerificationOutcome is the result recorded for a verification attempt.
type VerificationOutcome string

const (
	OutcomeValid   VerificationOutcome = "valid"
	OutcomeInvalid VerificationOutcome = "invalid"
	OutcomeError   VerificationOutcome = "error"
)

// VerificationEvent is an append-only record of one verify/introspect call.
type VerificationEvent struct {
	ID         uuid.UUID
	AppID      uuid.UUID
	AgentID    *uuid.UUID
	Outcome    VerificationOutcome
	Reason     string
	ClientAddr string
	CreatedAt  time.Time
}

// RecommendedAction is the Risk Engine's advisory verdict.
type RecommendedAction string

const (
	ActionAllow    RecommendedAction = "allow"
	ActionThrottle RecommendedAction = "throttle"
	ActionBlock    RecommendedAction = "block"
)

// RiskSnapshot is the last-computed risk assessment for an agent.
type RiskSnapshot struct {
	AgentID   uuid.UUID
	Score     int
	Action    RecommendedAction
	Reasons   []string
	UpdatedAt time.Time
}
