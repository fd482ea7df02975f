package model

// StatsOutcome reports a ledger application. Applied is false when the match's stats had
// already been committed, in which case the ratings are the current ones and deltas are zero.
type StatsOutcome struct {
	MatchID      string `json:"match_id"`
	Applied      bool   `json:"applied"`
	WinnerID     string `json:"winner_id"`
	LoserID      string `json:"loser_id"`
	WinnerRating int    `json:"winner_rating"`
	LoserRating  int    `json:"loser_rating"`
	WinnerDelta  int    `json:"winner_delta"`
	LoserDelta   int    `json:"loser_delta"`
}
