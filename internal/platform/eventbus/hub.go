// Package eventbus delivers match and queue events to connected participants.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duel_arena/internal/common/cache"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBuffer  = 32
	dedupeCapacity = 4096
	dedupeTTL      = 10 * time.Minute
)

// Publisher is implemented by every event sink.
type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
}

// NewEvent builds an event with a fresh id; payload is encoded as JSON.
func NewEvent(typ model.EventType, matchID string, audience []string, payload any, now time.Time) (model.Event, error) {
	e := model.Event{ID: uuid.NewString(), Type: typ, MatchID: matchID, Audience: audience, OccurredAt: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return model.Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		e.Payload = raw
	}
	return e, nil
}

type Subscription struct {
	ParticipantID string
	C             <-chan model.Event

	id uint64
	ch chan model.Event
}

// Hub fans events out to in-process subscribers. Sends never block: a subscriber whose
// buffer is full misses the event. Events seen before, by id, are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan model.Event
	nextID uint64
	buffer int
	seen   *cache.LRU[string, struct{}]
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[uint64]chan model.Event),
		buffer: buffer,
		seen:   cache.NewLRU[string, struct{}](dedupeCapacity, dedupeTTL),
	}
}

func (h *Hub) Subscribe(participantID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan model.Event, h.buffer)
	if h.subs[participantID] == nil {
		h.subs[participantID] = make(map[uint64]chan model.Event)
	}
	h.subs[participantID][h.nextID] = ch
	return &Subscription{ParticipantID: participantID, C: ch, id: h.nextID, ch: ch}
}

// Unsubscribe closes the subscription's channel. It is safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID := h.subs[s.ParticipantID]
	if _, ok := byID[s.id]; !ok {
		return
	}
	delete(byID, s.id)
	if len(byID) == 0 {
		delete(h.subs, s.ParticipantID)
	}
	close(s.ch)
}

func (h *Hub) Publish(_ context.Context, e model.Event) error {
	h.Deliver(e)
	return nil
}

// Deliver hands e to every matching subscriber and returns how many received it.
func (h *Hub) Deliver(e model.Event) int {
	if e.ID != "" && !h.seen.Add(e.ID, struct{}{}) {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	send := func(pid string, ch chan model.Event) {
		select {
		case ch <- e:
			delivered++
		default:
			logger.Warn(context.Background(), "event dropped, subscriber buffer full",
				zap.String("participant_id", pid), zap.String("event_type", string(e.Type)))
		}
	}
	if len(e.Audience) == 0 {
		for pid, byID := range h.subs {
			for _, ch := range byID {
				send(pid, ch)
			}
		}
	} else {
		for _, pid := range e.Audience {
			for _, ch := range h.subs[pid] {
				send(pid, ch)
			}
		}
	}
	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	return delivered
}
