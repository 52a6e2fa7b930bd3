// Package app wires configuration into running infrastructure and starts
// the requested mode (api, worker, or migrate).
package app

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentpassport/passport/internal/audit"
	"github.com/agentpassport/passport/internal/config"
	"github.com/agentpassport/passport/internal/ephemeral"
	"github.com/agentpassport/passport/internal/httpserver"
	"github.com/agentpassport/passport/internal/platform"
	"github.com/agentpassport/passport/internal/store"
	"github.com/agentpassport/passport/internal/telemetry"
	"github.com/agentpassport/passport/pkg/agent"
	passportapp "github.com/agentpassport/passport/pkg/app"
	"github.com/agentpassport/passport/pkg/challenge"
	"github.com/agentpassport/passport/pkg/discovery"
	"github.com/agentpassport/passport/pkg/ratelimit"
	"github.com/agentpassport/passport/pkg/risk"
	"github.com/agentpassport/passport/pkg/sweep"
	"github.com/agentpassport/passport/pkg/token"
	"github.com/agentpassport/passport/pkg/verification"
)

// Run reads config, connects to infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting agent passport",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	redisClient, err := ephemeral.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()
	redisStore := ephemeral.NewRedisStore(redisClient)

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	minter, err := newMinter(cfg)
	if err != nil {
		return fmt.Errorf("constructing token minter: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.DomainCollectors()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, redisStore, minter, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// newMinter decodes the base64 signing seed and constructs the token minter.
// An empty seed auto-generates a fresh one, which is only safe for local and
// test runs — restarting the process would invalidate every outstanding
// token, so production deployments must set PASSPORT_SIGNING_KEY_SEED.
func newMinter(cfg *config.Config) (*token.Minter, error) {
	var seed []byte
	if cfg.SigningKeySeed == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating dev signing key: %w", err)
		}
		seed = priv.Seed()
		slog.Warn("signing key: using auto-generated dev seed (set PASSPORT_SIGNING_KEY_SEED in production)")
	} else {
		decoded, err := base64.StdEncoding.DecodeString(cfg.SigningKeySeed)
		if err != nil {
			return nil, fmt.Errorf("decoding signing key seed: %w", err)
		}
		seed = decoded
	}
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	return token.NewMinter(seed, ttl)
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	redisStore ephemeral.Store,
	minter *token.Minter,
	metricsReg *prometheus.Registry,
) error {
	agents := store.NewAgentStore(db)
	challenges := store.NewChallengeStore(db)
	apps := store.NewAppStore(db)
	events := store.NewEventStore(db)

	auditWriter := audit.NewWriter(events, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	riskEngine := risk.New(redisStore, events, logger)
	challengeTTL := time.Duration(cfg.ChallengeTTLMinutes) * time.Minute
	challengeMgr := challenge.New(challenges, agents, redisStore, auditWriter, challengeTTL)
	agentSvc := agent.New(agents, challengeMgr, minter, auditWriter)
	agentHandler := agent.NewHandler(agentSvc, logger, cfg.IsProduction())

	appSvc := passportapp.New(apps)
	appHandler := passportapp.NewHandler(appSvc, logger, cfg.PortalInternalKey, cfg.IsProduction())

	verifySvc := verification.New(minter, agents, redisStore, riskEngine, auditWriter, verification.NoopHumanVerification{})
	verifyHandler := verification.NewHandler(verifySvc, logger, cfg.IsProduction())

	discoveryHandler := discovery.NewHandler(minter, fmt.Sprintf("https://%s", cfg.Host))

	limiter := ratelimit.New(redisStore)
	riskHook := httpserver.RiskDenialHook{Engine: riskEngine}
	challengeLimit := httpserver.RateLimit(limiter, "challenge", []httpserver.RateLimitKey{
		{Dimension: httpserver.ChallengeAgentDimension, Identify: httpserver.AgentIDParam},
		{Dimension: httpserver.ChallengeIPDimension, Identify: httpserver.RemoteIP},
	}, riskHook, cfg.IsProduction())
	tokenLimit := httpserver.RateLimit(limiter, "identity-token", []httpserver.RateLimitKey{
		{Dimension: httpserver.TokenAgentDimension, Identify: httpserver.AgentIDParam},
		{Dimension: httpserver.TokenIPDimension, Identify: httpserver.RemoteIP},
	}, riskHook, cfg.IsProduction())
	// No risk hook: verify-identity has no per-agent dimension, and the
	// per-app identifier is not an agent id.
	verifyLimit := httpserver.RateLimit(limiter, "verify-identity", []httpserver.RateLimitKey{
		{Dimension: httpserver.VerifyIPDimension, Identify: httpserver.RemoteIP},
		{Dimension: httpserver.VerifyAppDimension, Identify: httpserver.AuthenticatedAppID},
	}, nil, cfg.IsProduction())
	agentAuth := httpserver.RequireAgentAuth(minter, "id")
	appAuth := httpserver.RequireAppAuth(appSvc)

	router := httpserver.NewRouter(httpserver.Dependencies{
		Logger:             logger,
		Production:         cfg.IsProduction(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Postgres:           db,
		Redis:              redisStore,
		AgentRoutes:        agentHandler.Routes(challengeLimit, tokenLimit, agentAuth),
		AppRoutes:          appHandler.Routes(),
		VerificationRoutes: verifyHandler.Routes(appAuth, verifyLimit),
		DiscoveryRoutes:    discoveryHandler.Routes(),
		MetricsRegistry:    metricsReg,
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	logger.Info("worker started")

	interval, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return fmt.Errorf("parsing sweep interval %q: %w", cfg.SweepInterval, err)
	}

	challenges := store.NewChallengeStore(db)
	sweep.RunLoop(ctx, challenges, logger, interval)
	return nil
}
