package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger is the slice of the user store the sweeper needs.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Locker elects one instance per sweep. *queue.RedisLock satisfies it.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(context.Context), ok bool, err error)
}

// TokenSweeper periodically clears expired verification and reset tokens.
// Redemption already rejects expired tokens; this only keeps the table tidy.
type TokenSweeper struct {
	users    TokenPurger
	interval time.Duration
	lock     Locker
	logger   *slog.Logger
	now      func() time.Time
}

// NewTokenSweeper builds a sweeper. interval <= 0 disables Start; lock may be
// nil for a single instance.
func NewTokenSweeper(users TokenPurger, interval time.Duration, lock Locker, logger *slog.Logger) *TokenSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSweeper{
		users:    users,
		interval: interval,
		lock:     lock,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *TokenSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("token sweeper disabled")
		return
	}
	s.logger.Info("token sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("token sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("token sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one purge and returns the number of tokens cleared. It returns
// 0 without touching the store when another instance holds the lock.
func (s *TokenSweeper) Sweep(ctx context.Context) (int64, error) {
	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("token sweep skipped, lock held elsewhere")
			return 0, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	n, err := s.users.PurgeExpiredTokens(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired tokens cleared", "count", n)
	}
	return n, nil
}
