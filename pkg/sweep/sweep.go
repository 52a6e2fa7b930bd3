// Package sweep runs the periodic maintenance pass the worker process
// performs: purging expired challenges so storage doesn't grow unbounded
// with dead rows. Revoked-token markers live in the ephemeral store with
// their own TTL and self-expire without a sweep.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentpassport/passport/internal/store"
)

// Run performs one maintenance pass: every challenge whose expiry is in the
// past, whether redeemed or not, is deleted.
func Run(ctx context.Context, challenges *store.ChallengeStore, logger *slog.Logger) error {
	deleted, err := challenges.DeleteExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweeping expired challenges: %w", err)
	}
	if deleted > 0 {
		logger.Info("swept expired challenges", "deleted", deleted)
	}
	return nil
}

// RunLoop runs Run once immediately, then every interval until ctx is
// cancelled.
func RunLoop(ctx context.Context, challenges *store.ChallengeStore, logger *slog.Logger, interval time.Duration) {
	logger.Info("sweep loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := Run(ctx, challenges, logger); err != nil {
		logger.Error("initial sweep", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep loop stopped")
			return
		case <-ticker.C:
			if err := Run(ctx, challenges, logger); err != nil {
				logger.Error("sweep", "error", err)
			}
		}
	}
}
