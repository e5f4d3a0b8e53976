package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

const SessionCleanupJob = "session_cleanup"

// SessionPurger deletes persisted sessions that expired before now.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeSessions returns a job that trims expired session audit rows. Cache
// entries expire on their own; only the persisted trail needs sweeping.
func PurgeSessions(ctx context.Context, purger SessionPurger, timeout time.Duration, logger types.Logger) func() {
	if timeout <= 0 {
		timeout = time.Minute
	}

	return func() {
		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		removed, err := purger.PurgeExpired(jobCtx, time.Now())
		if err != nil {
			logger.Error("Failed to purge expired sessions", zap.Error(err))
			return
		}

		if removed > 0 {
			logger.Info("Purged expired sessions", zap.Int64("removed", removed))
		}
	}
}
