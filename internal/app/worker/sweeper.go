package worker

import (
	"context"
	"time"

	"duel_arena/internal/platform/logger"

	"go.uber.org/zap"
)

// SweepFunc performs one pass and reports how many items it handled.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs a SweepFunc on a fixed interval until its context is done. Passes never
// overlap.
type Sweeper struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
}

func NewSweeper(name string, interval time.Duration, sweep SweepFunc) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{name: name, interval: interval, sweep: sweep}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx = logger.ContextWithFields(ctx, zap.String("sweeper", s.name))
	logger.Info(ctx, "sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass, logging instead of returning failures.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.sweep(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Error(ctx, "sweep failed", zap.String("sweeper", s.name), zap.Int("handled", n), zap.Error(err))
		return n
	}
	if n > 0 {
		logger.Info(ctx, "sweep handled items", zap.String("sweeper", s.name), zap.Int("handled", n))
	}
	return n
}
