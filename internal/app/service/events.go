package service

import (
	"context"
	"time"

	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/logger"

	"go.uber.org/zap"
)

// emit publishes best effort. Clients reconcile from the API, so a lost event costs a
// refresh, never correctness.
func emit(ctx context.Context, pub eventbus.Publisher, typ model.EventType, matchID string, audience []string, payload any, now time.Time) {
	if pub == nil {
		return
	}
	e, err := eventbus.NewEvent(typ, matchID, audience, payload, now)
	if err == nil {
		err = pub.Publish(ctx, e)
	}
	if err != nil {
		logger.Warn(ctx, "event publish failed",
			zap.String("event_type", string(typ)), zap.String("match_id", matchID), zap.Error(err))
	}
}
