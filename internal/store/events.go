package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore provides database operations for audit events, verification
// events, and risk snapshots. These are write-mostly, best-effort tables:
// callers are expected to log and swallow errors rather than fail a request.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertAudit appends one audit event.
func (s *EventStore) InsertAudit(ctx context.Context, e AuditEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, event_type, actor_kind, actor_id, client_addr, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), e.EventType, e.ActorKind, e.ActorID, e.ClientAddr, e.Metadata, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// InsertVerification appends one verification event.
func (s *EventStore) InsertVerification(ctx context.Context, e VerificationEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_events (id, app_id, agent_id, outcome, reason, client_addr, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), e.AppID, e.AgentID, e.Outcome, e.Reason, e.ClientAddr, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting verification event: %w", err)
	}
	return nil
}

// UpsertRiskSnapshot writes or replaces the risk snapshot for an agent.
func (s *EventStore) UpsertRiskSnapshot(ctx context.Context, snap RiskSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_snapshots (agent_id, score, action, reasons, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id) DO UPDATE SET score = $2, action = $3, reasons = $4, updated_at = $5`,
		snap.AgentID, snap.Score, snap.Action, snap.Reasons, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting risk snapshot: %w", err)
	}
	return nil
}

// GetRiskSnapshot loads the last-persisted risk snapshot for an agent.
func (s *EventStore) GetRiskSnapshot(ctx context.Context, agentID uuid.UUID) (RiskSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT agent_id, score, action, reasons, updated_at FROM risk_snapshots WHERE agent_id = $1`,
		agentID,
	)
	var snap RiskSnapshot
	err := row.Scan(&snap.AgentID, &snap.Score, &snap.Action, &snap.Reasons, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RiskSnapshot{}, ErrNotFound
	}
	if err != nil {
		return RiskSnapshot{}, fmt.Errorf("loading risk snapshot: %w", err)
	}
	return snap, nil
}
