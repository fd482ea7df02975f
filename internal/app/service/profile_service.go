package service

import (
	"context"

	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
)

type ProfileService struct {
	participants repository.ParticipantRepository
	matches      repository.MatchRepository
}

func NewProfileService(repos *repository.Repositories) *ProfileService {
	return &ProfileService{participants: repos.Participants, matches: repos.Matches}
}

func (s *ProfileService) GetProfile(ctx context.Context, participantID string) (*model.Profile, error) {
	p, err := s.participants.FindByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	profile := model.NewProfile(p)
	return &profile, nil
}

// GetOwnProfile keeps the email, which the public profile strips.
func (s *ProfileService) GetOwnProfile(ctx context.Context, participantID string) (*model.Profile, error) {
	p, err := s.participants.FindByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	profile := model.NewProfile(p)
	profile.Email = p.Email
	return &profile, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *ProfileService) MatchHistory(ctx context.Context, participantID string, limit, offset int) ([]model.Match, error) {
	limit, offset = clampPage(limit, offset)
	return s.matches.ListByParticipant(ctx, participantID, limit, offset)
}

func (s *ProfileService) Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	limit, offset = clampPage(limit, offset)
	return s.participants.Leaderboard(ctx, limit, offset)
}
