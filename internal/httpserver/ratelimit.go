package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentpassport/passport/internal/apierror"
	"github.com/agentpassport/passport/internal/telemetry"
	"github.com/agentpassport/passport/pkg/ratelimit"
)

// RateLimitRiskHook feeds rate-limit denials back into the risk engine's
// per-agent counters, without the rate-limit middleware depending on the
// risk package directly.
type RateLimitRiskHook interface {
	RecordDenial(ctx context.Context, agentID uuid.UUID)
}

// RateLimitKey pairs one Dimension with a function deriving the identifier
// it should be checked against from the request.
type RateLimitKey struct {
	Dimension ratelimit.Dimension
	Identify  func(r *http.Request) string
}

// AgentIDParam derives a rate-limit identifier from the chi "id" URL
// parameter — the per-agent dimension for the agent-scoped endpoints.
func AgentIDParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// RemoteIP derives a rate-limit identifier from the caller's address,
// preferring X-Forwarded-For when present — the per-ip dimension.
func RemoteIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	return r.RemoteAddr
}

// AuthenticatedAppID derives a rate-limit identifier from the app identity
// RequireAppAuth places in context — the per-app dimension. Must be used
// on a route where RequireAppAuth has already run.
func AuthenticatedAppID(r *http.Request) string {
	identity, _ := AppFromContext(r.Context())
	return identity.AppID
}

// RateLimit builds chi middleware that checks every key in parallel per
// spec.md §4.6 ("both applicable dimensions are checked in parallel; the
// most restrictive result wins"), sets the X-RateLimit-* headers from
// whichever dimension is most restrictive, adds Retry-After on denial, and
// responds 429 with CodeRateLimited. endpoint labels the denial counter. On
// denial, the first key whose identifier parses as a UUID also feeds the
// risk engine, per spec.md's challenge/identity-token rate-limit signal.
func RateLimit(limiter *ratelimit.Limiter, endpoint string, keys []RateLimitKey, risk RateLimitRiskHook, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			checks := make([]ratelimit.IdentifierDimension, len(keys))
			for i, k := range keys {
				checks[i] = ratelimit.IdentifierDimension{Identifier: k.Identify(r), Dimension: k.Dimension}
			}

			decision, err := limiter.CheckAll(r.Context(), checks...)
			if err != nil {
				// Ephemeral-store outage: fail open rather than block every
				// request on a down dependency the limiter itself cannot fix.
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt, 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfter, 10))
				if risk != nil {
					for _, k := range keys {
						if agentID, err := uuid.Parse(k.Identify(r)); err == nil {
							risk.RecordDenial(r.Context(), agentID)
							break
						}
					}
				}
				telemetry.RateLimitDeniedTotal.WithLabelValues(endpoint).Inc()
				RespondAPIError(w, r, apierror.RateLimited(apierror.CodeRateLimited, "rate limit exceeded"), production)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
