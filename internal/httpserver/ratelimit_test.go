package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/pkg/ratelimit"
)

type fakeRiskHook struct {
	denied []uuid.UUID
}

func (f *fakeRiskHook) RecordDenial(_ context.Context, agentID uuid.UUID) {
	f.denied = append(f.denied, agentID)
}

func newTestLimiter() *ratelimit.Limiter {
	return ratelimit.New(ephemeral.NewFakeStore())
}

func agentAndIPKeys(agentLimit, ipLimit int64) []RateLimitKey {
	return []RateLimitKey{
		{Dimension: ratelimit.Dimension{KeyPrefix: "test-agent", Limit: agentLimit, WindowSeconds: 60}, Identify: AgentIDParam},
		{Dimension: ratelimit.Dimension{KeyPrefix: "test-ip", Limit: ipLimit, WindowSeconds: 60}, Identify: RemoteIP},
	}
}

func TestRateLimit_AllowsUnderBothDimensions(t *testing.T) {
	limiter := newTestLimiter()
	mw := RateLimit(limiter, "test", agentAndIPKeys(2, 100), nil, false)

	agentID := uuid.New().String()
	router := chi.NewRouter()
	router.With(mw).Get("/agents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/agents/"+agentID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_MostRestrictiveDimensionDeniesAndFeedsRisk(t *testing.T) {
	limiter := newTestLimiter()
	hook := &fakeRiskHook{}
	// Tight per-agent limit, loose per-ip limit: the agent dimension should
	// be the one that denies even though the ip dimension would still allow.
	mw := RateLimit(limiter, "test", agentAndIPKeys(1, 100), hook, false)

	router := chi.NewRouter()
	router.With(mw).Get("/agents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	agentID := uuid.New()
	req1 := httptest.NewRequest(http.MethodGet, "/agents/"+agentID.String(), nil)
	router.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodGet, "/agents/"+agentID.String(), nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)

	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	require.NotEmpty(t, w2.Header().Get("Retry-After"))
	require.Len(t, hook.denied, 1)
	require.Equal(t, agentID, hook.denied[0])
}

func TestRateLimit_IPDimensionDeniesEvenWhenAgentDimensionAllows(t *testing.T) {
	limiter := newTestLimiter()
	// Loose per-agent limit, tight per-ip limit, two distinct agent ids
	// sharing one IP: the ip dimension should deny the second request even
	// though each agent individually is still under its own limit.
	mw := RateLimit(limiter, "test", agentAndIPKeys(100, 1), nil, false)

	router := chi.NewRouter()
	router.With(mw).Get("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req1 := httptest.NewRequest(http.MethodGet, "/agents/"+uuid.New().String(), nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodGet, "/agents/"+uuid.New().String(), nil)
	req2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)

	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimit_AppKeyDerivesFromAuthenticatedAppID(t *testing.T) {
	limiter := newTestLimiter()
	keys := []RateLimitKey{
		{Dimension: ratelimit.Dimension{KeyPrefix: "verify-app", Limit: 1, WindowSeconds: 60}, Identify: AuthenticatedAppID},
	}
	mw := RateLimit(limiter, "verify-identity", keys, nil, false)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	appID := uuid.New().String()
	withIdentity := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/verify", nil)
		ctx := context.WithValue(r.Context(), appContextKey{}, AppIdentity{AppID: appID})
		return r.WithContext(ctx)
	}

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, withIdentity())
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, withIdentity())
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}
