package middleware

import (
	"context"
	"net/http"

	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/logger"

	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	ParticipantIDCtxKey contextKey = "participantID"
	RoleCtxKey          contextKey = "role"
)

// Authenticator rejects requests without a valid token and stores the caller's
// participant id and role in the request context.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			common.RespondWithDomainError(w, common.ErrNotAuthenticated)
			return
		}

		participantID, err := security.GetParticipantIDFromClaims(claims)
		if err != nil {
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token claims: "+err.Error())
			return
		}
		role, err := security.GetRoleFromClaims(claims)
		if err != nil {
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token claims: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ParticipantIDCtxKey, participantID)
		ctx = context.WithValue(ctx, RoleCtxKey, role)
		ctx = logger.ContextWithFields(ctx, zap.String("participant_id", participantID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuthenticator behaves like Authenticator when a valid token is present and
// lets anonymous requests through otherwise.
func OptionalAuthenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if id, err := security.GetParticipantIDFromClaims(claims); err == nil {
			ctx = context.WithValue(ctx, ParticipantIDCtxKey, id)
		}
		if role, err := security.GetRoleFromClaims(claims); err == nil {
			ctx = context.WithValue(ctx, RoleCtxKey, role)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(RoleCtxKey).(string)
		if !ok || role != model.RoleAdmin {
			common.RespondWithError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetParticipantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ParticipantIDCtxKey).(string)
	return id, ok
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleCtxKey).(string)
	return role, ok
}
