package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/pkg/token"
)

type agentContextKey struct{}
type appContextKey struct{}

// AgentIdentity is the authenticated agent subject carried in the request context.
type AgentIdentity struct {
	AgentID string
	Handle  string
	Scopes  []string
}

// AppIdentity is the authenticated app carried in the request context.
type AppIdentity struct {
	AppID string
}

// AgentFromContext extracts the authenticated agent identity, if any.
func AgentFromContext(ctx context.Context) (AgentIdentity, bool) {
	v, ok := ctx.Value(agentContextKey{}).(AgentIdentity)
	return v, ok
}

// AppFromContext extracts the authenticated app identity, if any.
func AppFromContext(ctx context.Context) (AppIdentity, bool) {
	v, ok := ctx.Value(appContextKey{}).(AppIdentity)
	return v, ok
}

// TokenVerifier is the subset of the token minter the agent-auth middleware
// needs.
type TokenVerifier interface {
	Verify(raw string) (token.Verified, string, bool)
}

// AppKeyValidator is the subset of the app credential service the app-auth
// middleware needs.
type AppKeyValidator interface {
	ValidateSecret(ctx context.Context, secret string) (appID string, ok bool, err error)
}

// RequireAgentAuth validates a Bearer JWT and, if urlParam is non-empty,
// requires the token's subject to equal the named chi URL parameter.
func RequireAgentAuth(verifier TokenVerifier, urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "missing bearer token"), false)
				return
			}

			verified, _, ok := verifier.Verify(raw)
			if !ok {
				RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "invalid or expired token"), false)
				return
			}

			if urlParam != "" {
				if chi.URLParam(r, urlParam) != verified.AgentID {
					RespondAPIError(w, r, apierror.Forbidden(apierror.CodeForbidden, "token subject does not match path agent"), false)
					return
				}
			}

			ctx := context.WithValue(r.Context(), agentContextKey{}, AgentIdentity{AgentID: verified.AgentID, Handle: verified.Handle, Scopes: verified.Scopes})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const appKeyPrefix = "ap_live_"

// RequireAppAuth validates an app secret from Authorization: Bearer or X-App-Key.
func RequireAppAuth(validator AppKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, ok := appSecret(r)
			if !ok || !strings.HasPrefix(secret, appKeyPrefix) {
				RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "missing or malformed app key"), false)
				return
			}

			appID, ok, err := validator.ValidateSecret(r.Context(), secret)
			if err != nil {
				RespondAPIError(w, r, apierror.Internal(apierror.CodeInternalError, "validating app key").Wrap(err), false)
				return
			}
			if !ok {
				RespondAPIError(w, r, apierror.Auth(apierror.CodeUnauthorized, "invalid app key"), false)
				return
			}

			ctx := context.WithValue(r.Context(), appContextKey{}, AppIdentity{AppID: appID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func appSecret(r *http.Request) (string, bool) {
	if v := r.Header.Get("X-App-Key"); v != "" {
		return v, true
	}
	if raw, ok := bearerToken(r); ok {
		return raw, true
	}
	return "", false
}
