package model

import "time"

// QueueEntry is a standing request for open matchmaking. The profile snapshot lets the
// matchmaker pair without re-reading participants.
type QueueEntry struct {
	ParticipantID string            `json:"participant_id"`
	Username      string            `json:"username"`
	DisplayName   string            `json:"display_name"`
	Rating        int               `json:"rating"`
	Difficulty    ProblemDifficulty `json:"difficulty,omitempty"` // empty means any
	EnqueuedAt    time.Time         `json:"enqueued_at"`
}

// QueueStatus is returned when joining the queue; Match is set when the join paired immediately.
type QueueStatus struct {
	Entry    *QueueEntry `json:"entry,omitempty"`
	Match    *Match      `json:"match,omitempty"`
	Position int         `json:"position,omitempty"`
	Waiting  int         `json:"waiting"`
}
