package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventMatchCreated  EventType = "match.created"
	EventMatchStarted  EventType = "match.started"
	EventMatchResolved EventType = "match.resolved"
	EventQueueChanged  EventType = "queue.changed"
)

// Event is delivered at least once; consumers dedupe on ID.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	MatchID    string          `json:"match_id,omitempty"`
	Audience   []string        `json:"audience,omitempty"` // participant ids, empty means everyone
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (e *Event) IsFor(participantID string) bool {
	if len(e.Audience) == 0 {
		return true
	}
	for _, id := range e.Audience {
		if id == participantID {
			return true
		}
	}
	return false
}

type QueueChangedPayload struct {
	Waiting int `json:"waiting"`
}

type MatchResolvedPayload struct {
	Match     *Match `json:"match"`
	ElapsedMs int64  `json:"elapsed_ms"`
}
