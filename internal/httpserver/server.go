package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/version"
	"github.com/agentpassport/passport/pkg/ratelimit"
	"github.com/agentpassport/passport/pkg/risk"
)

// Pinger is satisfied by the durable-store pool; readyz only needs liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the fully constructed components the HTTP edge mounts.
// Router assembly is the last wiring step: every service named here is
// already constructed and ready to serve.
type Dependencies struct {
	Logger             *slog.Logger
	Production         bool
	CORSAllowedOrigins []string

	Postgres Pinger
	Redis    ephemeral.Store

	AgentRoutes        chi.Router
	AppRoutes          chi.Router
	VerificationRoutes chi.Router
	DiscoveryRoutes    chi.Router

	MetricsRegistry *prometheus.Registry
}

// NewRouter assembles the chi router: shared middleware, health probes,
// metrics, and the mounted sub-routers for agents, apps, tokens, and
// discovery.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(deps.Logger))
	r.Use(Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-App-Key", "X-Portal-Internal-Key"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(deps.Postgres, deps.Redis))

	if deps.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Mount("/v1/agents", deps.AgentRoutes)
	r.Mount("/v1/apps", deps.AppRoutes)
	r.Mount("/v1/tokens", deps.VerificationRoutes)
	r.Mount("/.well-known", deps.DiscoveryRoutes)

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
	})
}

// handleReadyz pings both stores with a bounded timeout; either failing
// means the process shouldn't receive traffic yet.
func handleReadyz(pg Pinger, redis ephemeral.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true

		if pg != nil {
			if err := pg.Ping(ctx); err != nil {
				checks["postgres"] = err.Error()
				ready = false
			} else {
				checks["postgres"] = "ok"
			}
		}

		if redis != nil {
			if err := redis.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		Respond(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}

// Sliding-window configurations per spec.md §4.6's endpoint table (all
// windows 60s). Scenario 3 ("61 requests in one second") is burst timing
// against the 60-request/60-second challenge-per-agent window below, not a
// 1-second window.
var (
	ChallengeAgentDimension = ratelimit.Dimension{KeyPrefix: "challenge-agent", Limit: 60, WindowSeconds: 60}
	ChallengeIPDimension    = ratelimit.Dimension{KeyPrefix: "challenge-ip", Limit: 120, WindowSeconds: 60}
	TokenAgentDimension     = ratelimit.Dimension{KeyPrefix: "token-agent", Limit: 30, WindowSeconds: 60}
	TokenIPDimension        = ratelimit.Dimension{KeyPrefix: "token-ip", Limit: 60, WindowSeconds: 60}
	VerifyIPDimension       = ratelimit.Dimension{KeyPrefix: "verify-ip", Limit: 120, WindowSeconds: 60}
	VerifyAppDimension      = ratelimit.Dimension{KeyPrefix: "verify-app", Limit: 600, WindowSeconds: 60}
)

// RiskDenialHook adapts the risk engine's counter method to RateLimitRiskHook
// so RateLimit middleware can feed denials back into an agent's risk score
// without importing the risk package's full surface.
type RiskDenialHook struct {
	Engine *risk.Engine
}

func (h RiskDenialHook) RecordDenial(ctx context.Context, agentID uuid.UUID) {
	h.Engine.RecordRateLimitDenial(ctx, agentID)
}
