package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/store"
)

func newTestEngine() (*Engine, *ephemeral.FakeStore) {
	eph := ephemeral.NewFakeStore()
	e := New(eph, store.NewEventStore(nil), slog.Default())
	return e, eph
}

func TestComputeSuspendedIsTerminal(t *testing.T) {
	e, _ := newTestEngine()
	a := e.Compute(context.Background(), uuid.New(), true, time.Now().Add(-365*24*time.Hour))

	require.Equal(t, 100, a.Score)
	require.Equal(t, store.ActionBlock, a.RecommendedAction)
	require.Equal(t, []string{"agent_suspended"}, a.Reasons)
}

func TestComputeNewAgent(t *testing.T) {
	e, _ := newTestEngine()
	a := e.Compute(context.Background(), uuid.New(), false, time.Now())

	require.Equal(t, 25, a.Score)
	require.Contains(t, a.Reasons, "new_agent")
	require.Equal(t, store.ActionAllow, a.RecommendedAction)
}

func TestComputeOldAgentNoSignalsIsZero(t *testing.T) {
	e, _ := newTestEngine()
	a := e.Compute(context.Background(), uuid.New(), false, time.Now().Add(-365*24*time.Hour))

	require.Equal(t, 0, a.Score)
	require.Empty(t, a.Reasons)
}

func TestComputeHighInvalidRate(t *testing.T) {
	e, _ := newTestEngine()
	agentID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.RecordInvalidAttempt(ctx, agentID)
	}
	e.RecordValidAttempt(ctx, agentID)

	a := e.Compute(ctx, agentID, false, time.Now().Add(-365*24*time.Hour))
	require.Contains(t, a.Reasons, "high_invalid_rate")
}

func TestComputeRateLimitedOften(t *testing.T) {
	e, _ := newTestEngine()
	agentID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		e.RecordRateLimitDenial(ctx, agentID)
	}

	a := e.Compute(ctx, agentID, false, time.Now().Add(-365*24*time.Hour))
	require.Contains(t, a.Reasons, "rate_limited_often")
}

func TestComputeBurstActivity(t *testing.T) {
	e, _ := newTestEngine()
	agentID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		e.RecordActivity(ctx, agentID)
	}

	a := e.Compute(ctx, agentID, false, time.Now().Add(-365*24*time.Hour))
	require.Contains(t, a.Reasons, "burst_activity")
}

func TestComputeScoreIsClampedAndMonotonic(t *testing.T) {
	e, _ := newTestEngine()
	agentID := uuid.New()
	ctx := context.Background()

	baseline := e.Compute(ctx, agentID, false, time.Now())

	for i := 0; i < 11; i++ {
		e.RecordRateLimitDenial(ctx, agentID)
	}
	withDenials := e.Compute(ctx, agentID, false, time.Now())
	require.GreaterOrEqual(t, withDenials.Score, baseline.Score)
	require.LessOrEqual(t, withDenials.Score, 100)
}

func TestPersistSnapshotSkipsWhenLocked(t *testing.T) {
	e, eph := newTestEngine()
	agentID := uuid.New()
	ctx := context.Background()

	require.NoError(t, eph.Set(ctx, "risk:lock:"+agentID.String(), "1", time.Minute))

	// EventStore has a nil pool; if PersistSnapshot attempted a write it would
	// panic. The lock must prevent that.
	e.PersistSnapshot(ctx, agentID, Assessment{Score: 10, RecommendedAction: store.ActionAllow})
}
