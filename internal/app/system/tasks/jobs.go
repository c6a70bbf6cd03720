// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job names
const (
	SessionCleanup       = "session-cleanup"
	InactiveSessionClose = "inactive-session-close"
	LimiterSweep         = "ratelimit-sweep"
)

// SessionSweeper is the part of the tracked-session store the jobs use.
type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
	CloseInactive(ctx context.Context, idle time.Duration) (int64, error)
}

// SessionCleanupJob removes tracked sessions past their expiry.
func SessionCleanupJob(sessions SessionSweeper, logger *zap.Logger) Job {
	return Job{
		Name:     SessionCleanup,
		Interval: time.Hour,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("cleaned up expired sessions", zap.Int64("deleted", n))
			}
			return nil
		},
	}
}

// InactiveSessionCloseJob closes tracked sessions idle longer than idle. The
// records stay (end_reason "inactive") for the session history; the next
// request carrying the token resolves to anonymous.
func InactiveSessionCloseJob(sessions SessionSweeper, logger *zap.Logger, idle time.Duration) Job {
	interval := idle / 6
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return Job{
		Name:     InactiveSessionClose,
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := sessions.CloseInactive(ctx, idle)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("closed inactive sessions",
					zap.Int64("count", n),
					zap.Duration("idle", idle))
			}
			return nil
		},
	}
}

// Sweeper drops idle in-memory state, such as rate limiter buckets.
type Sweeper interface {
	Sweep() int
}

// LimiterSweepJob drops idle rate limiter buckets so the map does not grow
// with every client address ever seen.
func LimiterSweepJob(limiter Sweeper, logger *zap.Logger, every time.Duration) Job {
	if every <= 0 {
		every = 5 * time.Minute
	}
	return Job{
		Name:     LimiterSweep,
		Interval: every,
		Run: func(context.Context) error {
			if n := limiter.Sweep(); n > 0 {
				logger.Debug("swept idle rate limiter buckets", zap.Int("removed", n))
			}
			return nil
		},
	}
}
