package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"

	"github.com/google/uuid"
)

type AuthService struct {
	participants  repository.ParticipantRepository
	initialRating int
	now           func() time.Time
}

func NewAuthService(participants repository.ParticipantRepository, initialRating int) *AuthService {
	return &AuthService{participants: participants, initialRating: initialRating, now: time.Now}
}

type SignupRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	LoginField string `json:"login_field"` // Can be username or email
	Password   string `json:"password"`
}

type AuthResponse struct {
	Participant *model.Participant `json:"participant"`
	Token       string             `json:"token"`
}

const minPasswordLength = 8

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, fmt.Errorf("invalid email: %w", common.ErrValidation)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, common.ErrValidation)
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = req.Username
	}
	now := s.now().UTC()
	p := &model.Participant{
		ID:             uuid.NewString(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashedPassword,
		DisplayName:    displayName,
		Role:           model.RoleUser,
		Rating:         s.initialRating,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.participants.Create(ctx, p); err != nil {
		// Repo returns common.ErrConflict for a taken username or email
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return s.issue(p)
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.LoginField == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	// Try finding by email first, then by username
	p, err := s.participants.FindByEmail(ctx, strings.ToLower(req.LoginField))
	if errors.Is(err, common.ErrNotFound) {
		p, err = s.participants.FindByUsername(ctx, req.LoginField)
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrNotAuthenticated // Generic message for security
		}
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, p.HashedPassword) {
		return nil, common.ErrNotAuthenticated
	}
	return s.issue(p)
}

func (s *AuthService) issue(p *model.Participant) (*AuthResponse, error) {
	token, err := security.GenerateToken(p.ID, p.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	p.HashedPassword = ""
	return &AuthResponse{Participant: p, Token: token}, nil
}
