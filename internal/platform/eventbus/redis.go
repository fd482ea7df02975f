package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus shares events between API instances over a pub/sub channel. Published events
// are delivered to the local hub right away and again when they come back through the
// channel; the hub drops the second copy.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
}

func NewRedisBus(rdb redis.UniversalClient, channel string, hub *Hub) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, hub: hub}
}

func (b *RedisBus) Publish(ctx context.Context, e model.Event) error {
	b.hub.Deliver(e)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return common.WrapStoreError("publish event", err)
	}
	return nil
}

// Start subscribes to the channel and relays events into the hub until ctx is done.
// It returns once the subscription is confirmed.
func (b *RedisBus) Start(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return common.WrapStoreError("subscribe events", err)
	}

	go func() {
		defer pubsub.Close()
		msgs := pubsub.Channel()
		logger.Info(ctx, "event relay started", zap.String("channel", b.channel))
		for {
			select {
			case <-ctx.Done():
				logger.Info(context.Background(), "event relay stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					logger.Warn(ctx, "dropping malformed event", zap.Error(err))
					continue
				}
				b.hub.Deliver(e)
			}
		}
	}()
	return nil
}
