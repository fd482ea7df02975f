package service

import (
	"context"
	"math"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"go.uber.org/zap"
)

// EloRating returns a fixed K-factor Elo update. The winner always gains at least one
// point and the loser loses what the winner gains.
func EloRating(k int) repository.RatingFunc {
	return func(winnerRating, loserRating int) (int, int) {
		expected := 1 / (1 + math.Pow(10, float64(loserRating-winnerRating)/400))
		delta := int(math.Round(float64(k) * (1 - expected)))
		if delta < 1 {
			delta = 1
		}
		return delta, -delta
	}
}

// StatsLedger commits win/loss/rating updates for resolved matches exactly once.
type StatsLedger struct {
	stats  repository.StatsRepository
	rate   repository.RatingFunc
	policy common.RetryPolicy
}

func NewStatsLedger(stats repository.StatsRepository, rate repository.RatingFunc, policy common.RetryPolicy) *StatsLedger {
	return &StatsLedger{stats: stats, rate: rate, policy: policy}
}

// ApplyResult retries transient failures a few times. A result that still fails is left
// for the reconciler.
func (l *StatsLedger) ApplyResult(ctx context.Context, matchID, winnerID, loserID string) (*model.StatsOutcome, error) {
	var out *model.StatsOutcome
	err := common.Retry(ctx, l.policy, func() error {
		var err error
		out, err = l.stats.ApplyResult(ctx, matchID, winnerID, loserID, l.rate)
		return err
	})
	switch {
	case err != nil:
		metrics.StatsApplied.WithLabelValues("error").Inc()
		return nil, err
	case out.Applied:
		metrics.StatsApplied.WithLabelValues("applied").Inc()
	default:
		metrics.StatsApplied.WithLabelValues("duplicate").Inc()
	}
	return out, nil
}

// Reconcile applies results of resolved matches whose stats were never committed and
// returns how many it applied.
func (l *StatsLedger) Reconcile(ctx context.Context, limit int) (int, error) {
	pending, err := l.stats.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	applied := 0
	for i := range pending {
		m := &pending[i]
		out, err := l.ApplyResult(ctx, m.ID, *m.WinnerID, m.LoserID())
		if err != nil {
			logger.Error(ctx, "stats reconcile failed", zap.String("match_id", m.ID), zap.Error(err))
			continue
		}
		if out.Applied {
			applied++
		}
	}
	return applied, nil
}
