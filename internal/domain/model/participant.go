package model

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Participant struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	HashedPassword string    `json:"-"` // Not exposed
	DisplayName    string    `json:"display_name"`
	Role           string    `json:"role"`
	Rating         int       `json:"rating"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	TotalMatches   int       `json:"total_matches"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WinRate is wins over total matches, 0 before the first match.
func (p *Participant) WinRate() float64 {
	if p.TotalMatches == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.TotalMatches)
}

// Public strips account fields that only the owner should see.
func (p Participant) Public() Participant {
	p.Email = ""
	p.HashedPassword = ""
	return p
}

// Profile is the public view of a participant with derived stats.
type Profile struct {
	Participant
	WinRate float64 `json:"win_rate"`
}

func NewProfile(p *Participant) Profile {
	return Profile{Participant: p.Public(), WinRate: p.WinRate()}
}
