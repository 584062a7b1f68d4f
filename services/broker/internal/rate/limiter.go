// Package rate throttles login attempts per client key.
package rate

import (
	"context"
	"log/slog"
	"time"
)

// Limiter reports whether key may proceed at now and, when it may not, how
// long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// Fallback consults primary and switches to secondary for any call where
// primary errors, so a Redis outage degrades to per-process limits.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *slog.Logger
}

func NewFallback(primary, secondary Limiter, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	allowed, retryAfter, err := f.primary.Allow(ctx, key, now)
	if err == nil {
		return allowed, retryAfter, nil
	}
	f.logger.Warn("primary rate limiter failed, using fallback", "error", err)
	return f.secondary.Allow(ctx, key, now)
}
