// Package app implements §4.5: app and app-key lifecycle, including the
// memory-hard secret hashing and prefix-based validation path used by the
// app-key HTTP authentication middleware.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/store"
)

// Service implements app and app-key lifecycle operations.
type Service struct {
	apps *store.AppStore
}

// New creates an app Service.
func New(apps *store.AppStore) *Service {
	return &Service{apps: apps}
}

// Created is the response to a successful app creation, including the raw
// secret, which exists only here — the store retains prefix and hash.
type Created struct {
	AppID  uuid.UUID
	KeyID  uuid.UUID
	Secret string
}

// CreateApp registers a new app and its first key.
func (s *Service) CreateApp(ctx context.Context, name, description string, ownerUserID uuid.UUID, allowedScopes []string) (Created, error) {
	a, err := s.apps.Create(ctx, name, description, ownerUserID, allowedScopes)
	if err != nil {
		return Created{}, apierror.Internal(apierror.CodeInternalError, "creating app").Wrap(err)
	}

	secret, prefix, err := generateSecret()
	if err != nil {
		return Created{}, apierror.Internal(apierror.CodeInternalError, "generating app secret").Wrap(err)
	}

	key, err := s.apps.CreateKey(ctx, a.ID, prefix, hashSecret(secret))
	if err != nil {
		return Created{}, apierror.Internal(apierror.CodeInternalError, "creating app key").Wrap(err)
	}

	return Created{AppID: a.ID, KeyID: key.ID, Secret: secret}, nil
}

// ValidateSecret implements httpserver.AppKeyValidator: it extracts the
// presented key's prefix, checks every active key sharing that prefix
// (prefix collisions are tolerated, not prevented), and accepts the first
// whose hash matches and whose owning app is active. On a match it updates
// last_used_at.
func (s *Service) ValidateSecret(ctx context.Context, secret string) (string, bool, error) {
	if len(secret) < prefixLen {
		return "", false, nil
	}
	prefix := secret[:prefixLen]

	candidates, err := s.apps.ActiveKeysByPrefix(ctx, prefix)
	if err != nil {
		return "", false, fmt.Errorf("listing candidate app keys: %w", err)
	}

	for _, k := range candidates {
		ok, err := verifySecret(k.SecretHash, secret)
		if err != nil || !ok {
			continue
		}

		a, err := s.apps.GetByID(ctx, k.AppID)
		if err != nil || a.Status != store.AppActive {
			continue
		}

		_ = s.apps.TouchLastUsed(ctx, k.ID)
		return a.ID.String(), true, nil
	}

	return "", false, nil
}

// GetApp loads an app by id.
func (s *Service) GetApp(ctx context.Context, appID uuid.UUID) (store.App, error) {
	a, err := s.apps.GetByID(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return store.App{}, apierror.NotFound(apierror.CodeAppNotFound, "app not found")
	}
	if err != nil {
		return store.App{}, apierror.Internal(apierror.CodeInternalError, "loading app").Wrap(err)
	}
	return a, nil
}

// Rotated is the response to a successful rotation.
type Rotated struct {
	KeyID  uuid.UUID
	Secret string
}

// Rotate revokes every currently active key of the app and creates one new
// active key atomically.
func (s *Service) Rotate(ctx context.Context, appID uuid.UUID) (Rotated, error) {
	secret, prefix, err := generateSecret()
	if err != nil {
		return Rotated{}, apierror.Internal(apierror.CodeInternalError, "generating app secret").Wrap(err)
	}

	tx, err := s.apps.BeginTx(ctx)
	if err != nil {
		return Rotated{}, apierror.Internal(apierror.CodeInternalError, "beginning rotation").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.apps.RevokeAllKeys(ctx, tx, appID); err != nil {
		return Rotated{}, apierror.Internal(apierror.CodeInternalError, "revoking app keys").Wrap(err)
	}

	key, err := s.apps.CreateKeyTx(ctx, tx, appID, prefix, hashSecret(secret))
	if err != nil {
		return Rotated{}, apierror.Internal(apierror.CodeInternalError, "creating rotated app key").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Rotated{}, apierror.Internal(apierror.CodeInternalError, "committing rotation").Wrap(err)
	}

	return Rotated{KeyID: key.ID, Secret: secret}, nil
}
