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

const challengeColumns = `id, agent_id, nonce, expires_at, used_at`

// ChallengeStore provides database operations for challenges.
type ChallengeStore struct {
	pool *pgxpool.Pool
}

// NewChallengeStore creates a ChallengeStore backed by the given pool.
func NewChallengeStore(pool *pgxpool.Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

func scanChallenge(row pgx.Row) (Challenge, error) {
	var c Challenge
	err := row.Scan(&c.ID, &c.AgentID, &c.Nonce, &c.ExpiresAt, &c.UsedAt)
	return c, err
}

// Create persists a fresh challenge.
func (s *ChallengeStore) Create(ctx context.Context, agentID uuid.UUID, nonce string, expiresAt time.Time) (Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO challenges (id, agent_id, nonce, expires_at) VALUES ($1, $2, $3, $4)
		 RETURNING `+challengeColumns,
		uuid.New(), agentID, nonce, expiresAt,
	)
	c, err := scanChallenge(row)
	if err != nil {
		return Challenge{}, fmt.Errorf("inserting challenge: %w", err)
	}
	return c, nil
}

// Get loads a challenge by id.
func (s *ChallengeStore) Get(ctx context.Context, id uuid.UUID) (Challenge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Challenge{}, ErrNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("loading challenge: %w", err)
	}
	return c, nil
}

// DeleteExpired removes challenges whose expiry has passed, whether or not
// they were ever redeemed. Called periodically by the sweep worker so the
// table doesn't grow unbounded with dead rows.
func (s *ChallengeStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ErrAlreadyUsed is returned when MarkUsed finds the challenge was already redeemed.
var ErrAlreadyUsed = errors.New("store: challenge already used")

// MarkUsed atomically sets used_at, succeeding only if the challenge is
// currently unused — the conditional update required by the concurrency
// model so two concurrent redemptions can't both succeed.
func (s *ChallengeStore) MarkUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET used_at = $1 WHERE id = $2 AND used_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("marking challenge used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyUsed
	}
	return nil
}
