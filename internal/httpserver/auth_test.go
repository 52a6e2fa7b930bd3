package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/agentpassport/passport/pkg/token"
)

type fakeVerifier struct {
	verified token.Verified
	jti      string
	ok       bool
}

func (f fakeVerifier) Verify(raw string) (token.Verified, string, bool) {
	return f.verified, f.jti, f.ok
}

type fakeAppValidator struct {
	appID string
	ok    bool
	err   error
}

func (f fakeAppValidator) ValidateSecret(_ context.Context, _ string) (string, bool, error) {
	return f.appID, f.ok, f.err
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env.Error
}

func TestRequireAgentAuth_MissingBearer(t *testing.T) {
	mw := RequireAgentAuth(fakeVerifier{}, "")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}

func TestRequireAgentAuth_InvalidToken(t *testing.T) {
	mw := RequireAgentAuth(fakeVerifier{ok: false}, "")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}

func TestRequireAgentAuth_SubjectMismatch(t *testing.T) {
	verifier := fakeVerifier{ok: true, verified: token.Verified{AgentID: "agent-a"}}
	mw := RequireAgentAuth(verifier, "id")

	router := chi.NewRouter()
	router.With(mw).Get("/agents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/agents/agent-b", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", decodeError(t, w).Code)
}

func TestRequireAgentAuth_Success(t *testing.T) {
	verified := token.Verified{AgentID: "agent-a", Handle: "handle-a", Scopes: []string{"verify"}}
	mw := RequireAgentAuth(fakeVerifier{ok: true, verified: verified}, "")

	var gotIdentity AgentIdentity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "agent-a", gotIdentity.AgentID)
	require.Equal(t, "handle-a", gotIdentity.Handle)
	require.Equal(t, []string{"verify"}, gotIdentity.Scopes)
}

func TestRequireAppAuth_MissingKey(t *testing.T) {
	mw := RequireAppAuth(fakeAppValidator{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}

func TestRequireAppAuth_WrongPrefix(t *testing.T) {
	mw := RequireAppAuth(fakeAppValidator{})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-App-Key", "wrong_prefix_key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAppAuth_Success(t *testing.T) {
	mw := RequireAppAuth(fakeAppValidator{appID: "app-1", ok: true})

	var gotIdentity AppIdentity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = AppFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-App-Key", "ap_live_abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "app-1", gotIdentity.AppID)
}

func TestRequireAppAuth_ValidatorRejects(t *testing.T) {
	mw := RequireAppAuth(fakeAppValidator{ok: false})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-App-Key", "ap_live_abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
