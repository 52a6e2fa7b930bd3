package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrHandleTaken is returned when a handle uniqueness constraint is violated.
var ErrHandleTaken = errors.New("store: handle taken")

const agentColumns = `id, handle, status, created_at`

// AgentStore provides database operations for agents and their keys.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates an AgentStore backed by the given pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Handle, &a.Status, &a.CreatedAt)
	return a, err
}

// GetByID loads an agent by id.
func (s *AgentStore) GetByID(ctx context.Context, id uuid.UUID) (Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("loading agent: %w", err)
	}
	return a, nil
}

// GetByHandle loads an agent by handle.
func (s *AgentStore) GetByHandle(ctx context.Context, handle string) (Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE handle = $1`, handle)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("loading agent by handle: %w", err)
	}
	return a, nil
}

// CreateWithKey inserts a new agent and its first key in one transaction,
// rejecting with ErrHandleTaken on a handle uniqueness violation.
func (s *AgentStore) CreateWithKey(ctx context.Context, handle, publicKeyB64 string) (Agent, AgentKey, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agent{}, AgentKey{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO agents (id, handle, status, created_at) VALUES ($1, $2, $3, $4)
		 RETURNING `+agentColumns,
		uuid.New(), handle, AgentActive, time.Now(),
	)
	agent, err := scanAgent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Agent{}, AgentKey{}, ErrHandleTaken
		}
		return Agent{}, AgentKey{}, fmt.Errorf("inserting agent: %w", err)
	}

	key, err := insertAgentKey(ctx, tx, agent.ID, publicKeyB64)
	if err != nil {
		return Agent{}, AgentKey{}, fmt.Errorf("inserting agent key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Agent{}, AgentKey{}, fmt.Errorf("committing registration: %w", err)
	}

	return agent, key, nil
}

const agentKeyColumns = `id, agent_id, public_key, created_at, revoked_at`

func scanAgentKey(row pgx.Row) (AgentKey, error) {
	var k AgentKey
	err := row.Scan(&k.ID, &k.AgentID, &k.PublicKey, &k.CreatedAt, &k.RevokedAt)
	return k, err
}

func insertAgentKey(ctx context.Context, q queryer, agentID uuid.UUID, publicKeyB64 string) (AgentKey, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO agent_keys (id, agent_id, public_key, created_at) VALUES ($1, $2, $3, $4)
		 RETURNING `+agentKeyColumns,
		uuid.New(), agentID, publicKeyB64, time.Now(),
	)
	return scanAgentKey(row)
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AddKey appends a new key to an existing agent.
func (s *AgentStore) AddKey(ctx context.Context, agentID uuid.UUID, publicKeyB64 string) (AgentKey, error) {
	key, err := insertAgentKey(ctx, s.pool, agentID, publicKeyB64)
	if err != nil {
		return AgentKey{}, fmt.Errorf("adding agent key: %w", err)
	}
	return key, nil
}

// GetKey loads a key by id, scoped to the owning agent.
func (s *AgentStore) GetKey(ctx context.Context, agentID, keyID uuid.UUID) (AgentKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentKeyColumns+` FROM agent_keys WHERE id = $1 AND agent_id = $2`,
		keyID, agentID,
	)
	k, err := scanAgentKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AgentKey{}, ErrNotFound
	}
	if err != nil {
		return AgentKey{}, fmt.Errorf("loading agent key: %w", err)
	}
	return k, nil
}

// ActiveKeys returns every non-revoked key for an agent.
func (s *AgentStore) ActiveKeys(ctx context.Context, agentID uuid.UUID) ([]AgentKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentKeyColumns+` FROM agent_keys WHERE agent_id = $1 AND revoked_at IS NULL ORDER BY created_at`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active agent keys: %w", err)
	}
	defer rows.Close()

	var keys []AgentKey
	for rows.Next() {
		k, err := scanAgentKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanAgentKeyRow(rows pgx.Rows) (AgentKey, error) {
	var k AgentKey
	err := rows.Scan(&k.ID, &k.AgentID, &k.PublicKey, &k.CreatedAt, &k.RevokedAt)
	return k, err
}

// RevokeKey marks a key revoked iff it isn't already. Returns ErrNotFound if
// the key doesn't exist or doesn't belong to the agent, ErrAlreadyRevoked if
// it was already revoked.
var ErrAlreadyRevoked = errors.New("store: key already revoked")

func (s *AgentStore) RevokeKey(ctx context.Context, agentID, keyID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_keys SET revoked_at = $1 WHERE id = $2 AND agent_id = $3 AND revoked_at IS NULL`,
		time.Now(), keyID, agentID,
	)
	if err != nil {
		return fmt.Errorf("revoking agent key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetKey(ctx, agentID, keyID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyRevoked
	}
	return nil
}

// SetStatus updates an agent's lifecycle status (operator/admin action).
func (s *AgentStore) SetStatus(ctx context.Context, agentID uuid.UUID, status AgentStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET status = $1 WHERE id = $2`, status, agentID)
	if err != nil {
		return fmt.Errorf("setting agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
