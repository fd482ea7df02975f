package model

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	Rating        int    `json:"rating"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	TotalMatches  int    `json:"total_matches"`
}
