package model

import "time"

type MatchStatus string
type MatchSource string
type ResolutionReason string

const (
	MatchWaiting  MatchStatus = "waiting"
	MatchActive   MatchStatus = "active"
	MatchResolved MatchStatus = "resolved"

	SourceQueue MatchSource = "queue"
	SourceRoom  MatchSource = "room"

	ResolutionSolved  ResolutionReason = "solved"
	ResolutionForfeit ResolutionReason = "forfeit"
	ResolutionTimeout ResolutionReason = "timeout"
)

type Match struct {
	ID                 string           `json:"id"`
	RoomCode           string           `json:"room_code"`
	Source             MatchSource      `json:"source"`
	Player1ID          string           `json:"player1_id"`
	Player2ID          string           `json:"player2_id,omitempty"` // empty while a room awaits its guest
	ProblemID          string           `json:"problem_id,omitempty"`
	Status             MatchStatus      `json:"status"`
	Player1Ready       bool             `json:"player1_ready"`
	Player2Ready       bool             `json:"player2_ready"`
	Player1Submissions int              `json:"player1_submissions"`
	Player2Submissions int              `json:"player2_submissions"`
	WinnerID           *string          `json:"winner_id,omitempty"`
	Resolution         ResolutionReason `json:"resolution,omitempty"`
	StatsApplied       bool             `json:"stats_applied"`
	WinnerRatingDelta  *int             `json:"winner_rating_delta,omitempty"`
	LoserRatingDelta   *int             `json:"loser_rating_delta,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
}

func (m *Match) HasParticipant(participantID string) bool {
	return participantID != "" && (m.Player1ID == participantID || m.Player2ID == participantID)
}

// Opponent returns the other participant, or "" if participantID is not in the match.
func (m *Match) Opponent(participantID string) string {
	switch participantID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

func (m *Match) IsFull() bool {
	return m.Player1ID != "" && m.Player2ID != ""
}

func (m *Match) Participants() []string {
	if m.Player2ID == "" {
		return []string{m.Player1ID}
	}
	return []string{m.Player1ID, m.Player2ID}
}

// Elapsed is measured from the start of the match, not its creation.
func (m *Match) Elapsed(now time.Time) time.Duration {
	if m.StartedAt == nil {
		return 0
	}
	end := now
	if m.ResolvedAt != nil {
		end = *m.ResolvedAt
	}
	if end.Before(*m.StartedAt) {
		return 0
	}
	return end.Sub(*m.StartedAt)
}

// LoserID is the non-winning participant of a match that has a winner.
func (m *Match) LoserID() string {
	if m.WinnerID == nil {
		return ""
	}
	return m.Opponent(*m.WinnerID)
}

// Resolution describes the single resolved transition of a match.
type Resolution struct {
	WinnerID   *string
	Reason     ResolutionReason
	ResolvedAt time.Time
}

// MatchView is what a participant sees; the problem stays hidden until the match starts.
type MatchView struct {
	Match     *Match   `json:"match"`
	Problem   *Problem `json:"problem,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms"`
}
