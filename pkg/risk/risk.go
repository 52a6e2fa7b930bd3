// Package risk implements §4.7: an explainable, rule-based risk score
// computed from recent behavioral counters in the ephemeral store, with
// opportunistic persistence to the durable store.
package risk

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/store"
)

const (
	invalidValidWindow = 24 * time.Hour
	rateLimitWindow    = time.Hour
	activityWindow     = 10 * time.Minute
	lockTTL            = 5 * time.Minute

	newAgentAge = 7 * 24 * time.Hour

	invalidRateThreshold   = 0.20
	rateLimitCountThreshold = 10
	burstCountThreshold     = 50
)

// Assessment is the result returned alongside verification outcomes.
type Assessment struct {
	Score             int
	RecommendedAction store.RecommendedAction
	Reasons           []string
}

// Engine computes and persists risk assessments.
type Engine struct {
	ephemeral ephemeral.Store
	events    *store.EventStore
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a risk Engine.
func New(eph ephemeral.Store, events *store.EventStore, logger *slog.Logger) *Engine {
	return &Engine{ephemeral: eph, events: events, logger: logger, now: time.Now}
}

// RecordInvalidAttempt records one invalid verification attempt for agentID.
func (e *Engine) RecordInvalidAttempt(ctx context.Context, agentID uuid.UUID) {
	e.recordCounter(ctx, invalidValidKey(agentID), "invalid", invalidValidWindow)
}

// RecordValidAttempt records one valid verification attempt for agentID.
func (e *Engine) RecordValidAttempt(ctx context.Context, agentID uuid.UUID) {
	e.recordCounter(ctx, invalidValidKey(agentID), "valid", invalidValidWindow)
}

// RecordRateLimitDenial records one rate-limit denial for agentID.
func (e *Engine) RecordRateLimitDenial(ctx context.Context, agentID uuid.UUID) {
	e.recordCounter(ctx, rateLimitKey(agentID), "denied", rateLimitWindow)
}

// RecordActivity records one activity event for agentID.
func (e *Engine) RecordActivity(ctx context.Context, agentID uuid.UUID) {
	e.recordCounter(ctx, activityKey(agentID), "activity", activityWindow)
}

func (e *Engine) recordCounter(ctx context.Context, key, tag string, window time.Duration) {
	now := e.now()
	member := fmt.Sprintf("%d:%s:%s", now.Unix(), tag, randomSuffix())
	if err := e.ephemeral.ZAddExpire(ctx, key, ephemeral.ZMember{Score: float64(now.Unix()), Member: member}, window+time.Minute); err != nil {
		e.logger.Warn("recording risk counter", "error", err, "key", key)
	}
}

// Compute applies the scoring rules in order and returns an Assessment. It
// never returns an error: every counter read degrades to zero on failure.
func (e *Engine) Compute(ctx context.Context, agentID uuid.UUID, suspended bool, agentCreatedAt time.Time) Assessment {
	if suspended {
		return Assessment{Score: 100, RecommendedAction: store.ActionBlock, Reasons: []string{"agent_suspended"}}
	}

	now := e.now()
	score := 0
	var reasons []string

	if now.Sub(agentCreatedAt) < newAgentAge {
		score += 25
		reasons = append(reasons, "new_agent")
	}

	invalid := e.countMatching(ctx, invalidValidKey(agentID), now.Add(-invalidValidWindow), now, ":invalid:")
	valid := e.countMatching(ctx, invalidValidKey(agentID), now.Add(-invalidValidWindow), now, ":valid:")
	total := invalid + valid
	if total > 0 && float64(invalid)/float64(total) > invalidRateThreshold {
		score += 20
		reasons = append(reasons, "high_invalid_rate")
	}

	denials := e.card(ctx, rateLimitKey(agentID), now.Add(-rateLimitWindow), now)
	if denials > rateLimitCountThreshold {
		score += 20
		reasons = append(reasons, "rate_limited_often")
	}

	activity := e.card(ctx, activityKey(agentID), now.Add(-activityWindow), now)
	if activity > burstCountThreshold {
		score += 15
		reasons = append(reasons, "burst_activity")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	action := store.ActionAllow
	switch {
	case score >= 60:
		action = store.ActionBlock
	case score >= 30:
		action = store.ActionThrottle
	}

	return Assessment{Score: score, RecommendedAction: action, Reasons: reasons}
}

func (e *Engine) countMatching(ctx context.Context, key string, from, to time.Time, substr string) int64 {
	n, err := e.ephemeral.ZCountMatching(ctx, key, float64(from.Unix()), float64(to.Unix()), substr)
	if err != nil {
		e.logger.Warn("reading risk counter", "error", err, "key", key)
		return 0
	}
	return n
}

func (e *Engine) card(ctx context.Context, key string, from, to time.Time) int64 {
	n, err := e.ephemeral.ZCountMatching(ctx, key, float64(from.Unix()), float64(to.Unix()), "")
	if err != nil {
		e.logger.Warn("reading risk counter", "error", err, "key", key)
		return 0
	}
	return n
}

// PersistSnapshot upserts the assessment, but only after acquiring a
// per-agent advisory lock — this rate-limits writes. If the ephemeral store
// is unavailable the lock is skipped and the write proceeds unconditionally.
func (e *Engine) PersistSnapshot(ctx context.Context, agentID uuid.UUID, a Assessment) {
	lockKey := fmt.Sprintf("risk:lock:%s", agentID)
	acquired, err := e.ephemeral.SetNX(ctx, lockKey, "1", lockTTL)
	if err != nil {
		acquired = true // ephemeral store down: proceed unconditionally
	}
	if !acquired {
		return
	}

	if err := e.events.UpsertRiskSnapshot(ctx, store.RiskSnapshot{
		AgentID: agentID,
		Score:   a.Score,
		Action:  a.RecommendedAction,
		Reasons: a.Reasons,
	}); err != nil {
		e.logger.Warn("persisting risk snapshot", "error", err, "agent_id", agentID)
	}
}

func invalidValidKey(agentID uuid.UUID) string { return fmt.Sprintf("risk:invalid:%s", agentID) }
func rateLimitKey(agentID uuid.UUID) string     { return fmt.Sprintf("risk:ratelimit:%s", agentID) }
func activityKey(agentID uuid.UUID) string      { return fmt.Sprintf("risk:burst:%s", agentID) }

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
