package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/platform/config"
)

func newAuth(t *testing.T) (*service.AuthService, *repository.Repositories) {
	t.Helper()
	config.AppConfig = &config.Config{JWTKey: []byte("test-secret"), JWTExp: time.Hour}
	security.InitJWT()
	repos := repository.NewMemoryRepositories()
	return service.NewAuthService(repos.Participants, 1200), repos
}

func TestSignupAndLogin(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	resp, err := auth.Signup(ctx, service.SignupRequest{Username: "ada", Email: "Ada@Example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if resp.Token == "" || resp.Participant.HashedPassword != "" || resp.Participant.Rating != 1200 || resp.Participant.DisplayName != "ada" {
		t.Fatalf("unexpected signup response %+v", resp.Participant)
	}

	for _, login := range []string{"ada", "ada@example.com"} {
		got, err := auth.Login(ctx, service.LoginRequest{LoginField: login, Password: "correct horse"})
		if err != nil || got.Participant.ID != resp.Participant.ID {
			t.Fatalf("Login(%s) = %+v, %v", login, got, err)
		}
	}
	if _, err := auth.Login(ctx, service.LoginRequest{LoginField: "ada", Password: "wrong password"}); !errors.Is(err, common.ErrNotAuthenticated) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := auth.Login(ctx, service.LoginRequest{LoginField: "nobody", Password: "whatever1"}); !errors.Is(err, common.ErrNotAuthenticated) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  service.SignupRequest
		want error
	}{
		{"missing fields", service.SignupRequest{Username: "x"}, common.ErrBadRequest},
		{"bad email", service.SignupRequest{Username: "x", Email: "nope", Password: "long enough"}, common.ErrValidation},
		{"short password", service.SignupRequest{Username: "x", Email: "x@example.com", Password: "short"}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Signup(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	ok := service.SignupRequest{Username: "grace", Email: "grace@example.com", Password: "long enough"}
	if _, err := auth.Signup(ctx, ok); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := auth.Signup(ctx, ok); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", err)
	}
}
