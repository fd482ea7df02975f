package handler

import (
	"net/http"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"

	"github.com/go-chi/chi/v5"
)

type ProfileHandler struct {
	profiles *service.ProfileService
}

func NewProfileHandler(ps *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: ps}
}

func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(auth chi.Router) {
		auth.Use(middleware.Authenticator)
		auth.Get("/me", h.getOwnProfile)
		auth.Get("/me/matches", h.ownMatchHistory)
	})
	r.Get("/{participantID}", h.getProfile)
	r.Get("/{participantID}/matches", h.matchHistory)
}

func (h *ProfileHandler) RegisterLeaderboardRoutes(r chi.Router) {
	r.Get("/", h.leaderboard)
}

func (h *ProfileHandler) getOwnProfile(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.GetOwnProfile(r.Context(), pid)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetProfile(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) ownMatchHistory(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	h.respondHistory(w, r, pid)
}

func (h *ProfileHandler) matchHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, chi.URLParam(r, "participantID"))
}

func (h *ProfileHandler) respondHistory(w http.ResponseWriter, r *http.Request, pid string) {
	matches, err := h.profiles.MatchHistory(r.Context(), pid, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, matches)
}

func (h *ProfileHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.profiles.Leaderboard(r.Context(), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}
