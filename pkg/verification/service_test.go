package verification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/store"
	"github.com/agentpassport/passport/pkg/risk"
	"github.com/agentpassport/passport/pkg/token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestMinter(t *testing.T, ttl time.Duration) *token.Minter {
	t.Helper()
	seed := make([]byte, 32)
	m, err := token.NewMinter(seed, ttl)
	require.NoError(t, err)
	return m
}

// fakeAgentLookup is an in-memory AgentLookup for tests that don't need a
// real durable store.
type fakeAgentLookup struct {
	agents map[uuid.UUID]store.Agent
}

func newFakeAgentLookup() *fakeAgentLookup {
	return &fakeAgentLookup{agents: make(map[uuid.UUID]store.Agent)}
}

func (f *fakeAgentLookup) GetByID(_ context.Context, id uuid.UUID) (store.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return store.Agent{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeAgentLookup) register(a store.Agent) {
	f.agents[a.ID] = a
}

// newTestService wires a Service against fakes only, so tests never touch a
// real durable-store connection. Its risk engine's event store is nil, so any
// test that reaches a registered agent must pre-hold the per-agent risk
// persistence lock (see lockRiskPersistence) — otherwise PersistSnapshot
// would try to upsert through the nil-backed EventStore.
func newTestService(t *testing.T, minter *token.Minter, eph ephemeral.Store) *Service {
	t.Helper()
	return newTestServiceWithLookup(t, minter, eph, newFakeAgentLookup())
}

func newTestServiceWithLookup(t *testing.T, minter *token.Minter, eph ephemeral.Store, lookup *fakeAgentLookup) *Service {
	t.Helper()
	r := risk.New(eph, store.NewEventStore(nil), discardLogger())
	return New(minter, lookup, eph, r, nil, nil)
}

// lockRiskPersistence pre-acquires the per-agent advisory lock
// PersistSnapshot checks, so it no-ops instead of reaching the nil-backed
// EventStore.
func lockRiskPersistence(t *testing.T, eph ephemeral.Store, agentID uuid.UUID) {
	t.Helper()
	require.NoError(t, eph.Set(context.Background(), fmt.Sprintf("risk:lock:%s", agentID), "1", time.Hour))
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	s := newTestService(t, newTestMinter(t, time.Hour), eph)

	result := s.Verify(context.Background(), uuid.New(), "not.a.jwt", "1.2.3.4")

	require.False(t, result.Valid)
	require.Equal(t, "token_invalid", result.Reason)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, -time.Minute)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	result := s.Verify(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	require.False(t, result.Valid)
	require.Equal(t, "token_expired", result.Reason)
}

func TestVerifyShortCircuitsOnRevocation(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	require.NoError(t, eph.Set(context.Background(), revokedKey(minted.JTI), "1", time.Hour))

	result := s.Verify(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	require.False(t, result.Valid)
	require.Equal(t, "token_revoked", result.Reason)
}

func TestVerifyFailsOpenWhenEphemeralStoreDown(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	eph.Down = true

	result := s.Verify(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	// Revocation degrades to "not revoked" on ephemeral outage, so the call
	// proceeds past the revocation check to the (unregistered) agent lookup,
	// which misses — proving the outage did not short-circuit as revoked.
	require.False(t, result.Valid)
	require.Equal(t, "agent_not_found", result.Reason)
}

func TestVerifyGoldenPathForActiveAgent(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	lookup := newFakeAgentLookup()
	s := newTestServiceWithLookup(t, minter, eph, lookup)

	agentID := uuid.New()
	lookup.register(store.Agent{
		ID:        agentID,
		Handle:    "alpha",
		Status:    store.AgentActive,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	lockRiskPersistence(t, eph, agentID)

	minted, err := minter.Mint(token.MintInput{AgentID: agentID.String(), Handle: "alpha", Scopes: []string{"verify"}})
	require.NoError(t, err)

	result := s.Verify(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	require.True(t, result.Valid)
	require.Equal(t, agentID.String(), result.AgentID)
	require.Equal(t, "alpha", result.Handle)
	require.Equal(t, []string{"verify"}, result.Scopes)
	require.Equal(t, store.ActionAllow, result.Risk.RecommendedAction)
}

func TestVerifySuspendedAgentForcesBlockWithMaxScore(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	lookup := newFakeAgentLookup()
	s := newTestServiceWithLookup(t, minter, eph, lookup)

	agentID := uuid.New()
	lookup.register(store.Agent{
		ID:        agentID,
		Handle:    "alpha",
		Status:    store.AgentSuspended,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	lockRiskPersistence(t, eph, agentID)

	minted, err := minter.Mint(token.MintInput{AgentID: agentID.String(), Handle: "alpha"})
	require.NoError(t, err)

	result := s.Verify(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	require.False(t, result.Valid)
	require.Equal(t, "agent_suspended", result.Reason)
	require.Equal(t, store.ActionBlock, result.Risk.RecommendedAction)
	require.Equal(t, 100, result.Risk.Score)
	require.Contains(t, result.Risk.Reasons, "agent_suspended")
}

func TestIntrospectRejectsGarbageToken(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	s := newTestService(t, newTestMinter(t, time.Hour), eph)

	result := s.Introspect(context.Background(), uuid.New(), "not.a.jwt")

	require.False(t, result.Active)
}

func TestIntrospectInactiveForUnregisteredAgent(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	result := s.Introspect(context.Background(), uuid.New(), minted.Token)

	require.False(t, result.Active)
}

func TestRevokeRoundTrip(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	rev, err := s.Revoke(context.Background(), uuid.New(), minted.Token, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, rev.Revoked)
	require.Equal(t, minted.JTI, rev.JTI)

	_, ok, err := eph.Get(context.Background(), revokedKey(minted.JTI))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRevokeRejectsUndecodableToken(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	s := newTestService(t, newTestMinter(t, time.Hour), eph)

	_, err := s.Revoke(context.Background(), uuid.New(), "garbage", "1.2.3.4")

	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeFailsClosedWhenStoreDown(t *testing.T) {
	eph := ephemeral.NewFakeStore()
	minter := newTestMinter(t, time.Hour)
	s := newTestService(t, minter, eph)

	minted, err := minter.Mint(token.MintInput{AgentID: uuid.NewString(), Handle: "alpha"})
	require.NoError(t, err)

	eph.Down = true

	_, err = s.Revoke(context.Background(), uuid.New(), minted.Token, "1.2.3.4")

	require.ErrorIs(t, err, ErrRedisUnavailable)
}
