// Package scheduler runs the settlement sweep on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
)

type Matcher interface {
	MatchPendingOrders(ctx context.Context, caller auth.Identity) (*service.MatchResult, error)
}

// SystemIdentity is the privileged caller the sweeper acts as.
var SystemIdentity = auth.Identity{Roles: []string{auth.RoleAdmin}}

type Sweeper struct {
	matcher  Matcher
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(matcher Matcher, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{matcher: matcher, interval: interval, logger: logger}
}

// Run blocks until ctx is done. Sweeps never overlap: the next tick is only
// taken after the previous sweep returns.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic settlement disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("periodic settlement started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	result, err := s.matcher.MatchPendingOrders(ctx, SystemIdentity)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("periodic settlement failed", "error", err)
		return
	}
	if len(result.Matched) > 0 || len(result.Skipped) > 0 {
		s.logger.Info("periodic settlement", "matched", len(result.Matched), "skipped", len(result.Skipped))
	}
}
