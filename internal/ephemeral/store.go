// Package ephemeral reifies the short-lived side-store (Redis in
// production) behind a small interface so services can be constructor-
// injected and tested against a fake, per the "ambient module-level
// singletons" design note.
package ephemeral

import (
	"context"
	"time"
)

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Score  float64
	Member string
}

// Store is the ephemeral-store contract used by the challenge manager,
// verification service (revocation), rate limiter, and risk engine.
type Store interface {
	// Get returns the value for key, and ok=false if it does not exist.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key with the given time-to-live.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes a key.
	Del(ctx context.Context, key string) error
	// SetNX sets key to value only if it doesn't already exist, returning
	// whether the set happened. Used for the risk-snapshot advisory lock.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// ZAddExpire adds a scored member to the sorted set at key and sets the
	// key's TTL, in one round trip.
	ZAddExpire(ctx context.Context, key string, member ZMember, ttl time.Duration) error
	// ZRemRangeByScore removes members scored in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard returns the number of members in the sorted set.
	ZCard(ctx context.Context, key string) (int64, error)
	// ZMinScore returns the lowest-scored member's score, if any.
	ZMinScore(ctx context.Context, key string) (float64, bool, error)
	// ZCountMatching counts members whose member string contains substr,
	// scored in [min, max]. Used to discriminate the valid/invalid
	// verification counter that shares one key.
	ZCountMatching(ctx context.Context, key string, min, max float64, substr string) (int64, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// ErrUnavailable wraps failures from the underlying ephemeral store so
// callers can distinguish "not found" from "store is down."
type ErrUnavailable struct {
	Cause error
}

func (e *ErrUnavailable) Error() string { return "ephemeral store unavailable: " + e.Cause.Error() }
func (e *ErrUnavailable) Unwrap() error { return e.Cause }
