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

const appColumns = `id, name, description, owner_user_id, status, allowed_scopes, created_at`

// AppStore provides database operations for apps and their keys.
type AppStore struct {
	pool *pgxpool.Pool
}

// NewAppStore creates an AppStore backed by the given pool.
func NewAppStore(pool *pgxpool.Pool) *AppStore {
	return &AppStore{pool: pool}
}

func scanApp(row pgx.Row) (App, error) {
	var a App
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.OwnerUserID, &a.Status, &a.AllowedScopes, &a.CreatedAt)
	return a, err
}

// Create inserts a new app.
func (s *AppStore) Create(ctx context.Context, name, description string, ownerUserID uuid.UUID, allowedScopes []string) (App, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO apps (id, name, description, owner_user_id, status, allowed_scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+appColumns,
		uuid.New(), name, description, ownerUserID, AppActive, allowedScopes, time.Now(),
	)
	a, err := scanApp(row)
	if err != nil {
		return App{}, fmt.Errorf("inserting app: %w", err)
	}
	return a, nil
}

// GetByID loads an app by id.
func (s *AppStore) GetByID(ctx context.Context, id uuid.UUID) (App, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appColumns+` FROM apps WHERE id = $1`, id)
	a, err := scanApp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return App{}, ErrNotFound
	}
	if err != nil {
		return App{}, fmt.Errorf("loading app: %w", err)
	}
	return a, nil
}

const appKeyColumns = `id, app_id, prefix, secret_hash, status, last_used_at, created_at`

func scanAppKey(row pgx.Row) (AppKey, error) {
	var k AppKey
	err := row.Scan(&k.ID, &k.AppID, &k.Prefix, &k.SecretHash, &k.Status, &k.LastUsedAt, &k.CreatedAt)
	return k, err
}

func scanAppKeyRow(rows pgx.Rows) (AppKey, error) {
	var k AppKey
	err := rows.Scan(&k.ID, &k.AppID, &k.Prefix, &k.SecretHash, &k.Status, &k.LastUsedAt, &k.CreatedAt)
	return k, err
}

// CreateKey inserts a new active app key.
func (s *AppStore) CreateKey(ctx context.Context, appID uuid.UUID, prefix, secretHash string) (AppKey, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO app_keys (id, app_id, prefix, secret_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+appKeyColumns,
		uuid.New(), appID, prefix, secretHash, AppKeyActive, time.Now(),
	)
	k, err := scanAppKey(row)
	if err != nil {
		return AppKey{}, fmt.Errorf("inserting app key: %w", err)
	}
	return k, nil
}

// ActiveKeysByPrefix returns every active key sharing the given prefix,
// across all apps — prefix collisions are tolerated per the credential
// model, so callers must verify the hash of each candidate.
func (s *AppStore) ActiveKeysByPrefix(ctx context.Context, prefix string) ([]AppKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+appKeyColumns+` FROM app_keys WHERE prefix = $1 AND status = $2`,
		prefix, AppKeyActive,
	)
	if err != nil {
		return nil, fmt.Errorf("listing app keys by prefix: %w", err)
	}
	defer rows.Close()

	var keys []AppKey
	for rows.Next() {
		k, err := scanAppKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning app key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ActiveKeys returns every active key owned by an app.
func (s *AppStore) ActiveKeys(ctx context.Context, appID uuid.UUID) ([]AppKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+appKeyColumns+` FROM app_keys WHERE app_id = $1 AND status = $2`,
		appID, AppKeyActive,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active app keys: %w", err)
	}
	defer rows.Close()

	var keys []AppKey
	for rows.Next() {
		k, err := scanAppKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning app key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchLastUsed updates last_used_at for a key.
func (s *AppStore) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE app_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), keyID)
	if err != nil {
		return fmt.Errorf("touching app key last_used_at: %w", err)
	}
	return nil
}

// RevokeAllKeys revokes every currently active key of an app within tx. Used
// by rotation, which then creates one new active key in the same
// transaction.
func (s *AppStore) RevokeAllKeys(ctx context.Context, tx pgx.Tx, appID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE app_keys SET status = $1 WHERE app_id = $2 AND status = $3`,
		AppKeyRevoked, appID, AppKeyActive,
	)
	if err != nil {
		return fmt.Errorf("revoking app keys: %w", err)
	}
	return nil
}

// CreateKeyTx inserts a new active app key within an existing transaction.
func (s *AppStore) CreateKeyTx(ctx context.Context, tx pgx.Tx, appID uuid.UUID, prefix, secretHash string) (AppKey, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO app_keys (id, app_id, prefix, secret_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+appKeyColumns,
		uuid.New(), appID, prefix, secretHash, AppKeyActive, time.Now(),
	)
	return scanAppKey(row)
}

// BeginTx starts a transaction for multi-step app-key operations (rotation).
func (s *AppStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}
