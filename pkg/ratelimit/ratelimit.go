// Package ratelimit implements §4.6: sliding-window request limiting backed
// by ephemeral-store sorted sets.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/agentpassport/passport/internal/ephemeral"
)

// Dimension describes one sliding-window limit.
type Dimension struct {
	KeyPrefix     string
	Limit         int64
	WindowSeconds int64
}

// Decision is the result of a Check call.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    int64 // epoch seconds
	RetryAfter int64 // seconds, only meaningful when !Allowed
}

// Limiter checks and records sliding-window counters in the ephemeral store.
type Limiter struct {
	store ephemeral.Store
	now   func() time.Time
}

// New creates a Limiter backed by the given ephemeral store.
func New(store ephemeral.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check executes the sliding-window algorithm for one dimension and
// identifier: remove expired entries, count what remains, and, if the count
// is under the limit, insert the new event and set a fresh TTL in one
// pipelined ZAddExpire. A denied request is not recorded in the window.
func (l *Limiter) Check(ctx context.Context, identifier string, dim Dimension) (Decision, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", dim.KeyPrefix, identifier)
	now := l.now()
	nowSec := now.Unix()
	windowStart := float64(nowSec - dim.WindowSeconds)

	if err := l.store.ZRemRangeByScore(ctx, key, 0, windowStart); err != nil {
		return Decision{}, err
	}

	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	resetAt := nowSec + dim.WindowSeconds

	if count >= dim.Limit {
		retryAfter := int64(1)
		if min, ok, err := l.store.ZMinScore(ctx, key); err == nil && ok && min > 0 {
			candidate := int64(min) + dim.WindowSeconds - nowSec
			if candidate > retryAfter {
				retryAfter = candidate
			}
		}
		return Decision{
			Allowed:    false,
			Limit:      dim.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	member := fmt.Sprintf("%d:%s", nowSec, randomSuffix())
	ttl := time.Duration(dim.WindowSeconds+1) * time.Second
	if err := l.store.ZAddExpire(ctx, key, ephemeral.ZMember{Score: float64(nowSec), Member: member}, ttl); err != nil {
		return Decision{}, err
	}

	remaining := dim.Limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   true,
		Limit:     dim.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// IdentifierDimension pairs one identifier with the Dimension it should be
// checked against, for use with CheckAll.
type IdentifierDimension struct {
	Identifier string
	Dimension  Dimension
}

// CheckAll checks every identifier/dimension pair — e.g. an endpoint's
// per-agent and per-ip limits — and returns the single most restrictive
// Decision per spec.md §4.6: "both applicable dimensions are checked in
// parallel; the most restrictive result wins." A denial from any pair wins
// over an allow from another; between two denials the longer Retry-After
// wins; between two allows the smaller Remaining wins. Every pair is
// checked regardless of the others' results; each allowed pair records its
// event.
func (l *Limiter) CheckAll(ctx context.Context, checks ...IdentifierDimension) (Decision, error) {
	decisions := make([]Decision, len(checks))
	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c IdentifierDimension) {
			defer wg.Done()
			decisions[i], errs[i] = l.Check(ctx, c.Identifier, c.Dimension)
		}(i, c)
	}
	wg.Wait()

	var most Decision
	for i, d := range decisions {
		if errs[i] != nil {
			return Decision{}, errs[i]
		}
		if i == 0 {
			most = d
			continue
		}
		most = mostRestrictive(most, d)
	}
	return most, nil
}

func mostRestrictive(a, b Decision) Decision {
	if a.Allowed != b.Allowed {
		if a.Allowed {
			return b
		}
		return a
	}
	if !a.Allowed {
		if b.RetryAfter > a.RetryAfter {
			return b
		}
		return a
	}
	if b.Remaining < a.Remaining {
		return b
	}
	return a
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
