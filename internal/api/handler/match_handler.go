package handler

import (
	"net/http"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"

	"github.com/go-chi/chi/v5"
)

type MatchHandler struct {
	matches *service.MatchService
}

func NewMatchHandler(ms *service.MatchService) *MatchHandler {
	return &MatchHandler{matches: ms}
}

func (h *MatchHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/{matchID}", h.getMatch)
	r.Post("/{matchID}/ready", h.ready)
	r.Post("/{matchID}/submissions", h.submit)
	r.Get("/{matchID}/submissions", h.listSubmissions)
	r.Post("/{matchID}/forfeit", h.forfeit)
}

func (h *MatchHandler) getMatch(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	view, err := h.matches.GetMatch(r.Context(), chi.URLParam(r, "matchID"), pid)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

func (h *MatchHandler) ready(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	view, err := h.matches.Ready(r.Context(), chi.URLParam(r, "matchID"), pid)
	if err != nil {
		respondMatchError(w, r, "ready", err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

// submit judges synchronously; the verdict is in the response.
func (h *MatchHandler) submit(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req service.SubmitRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	res, err := h.matches.Submit(r.Context(), chi.URLParam(r, "matchID"), pid, req)
	if err != nil {
		respondMatchError(w, r, "submit", err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, res)
}

func (h *MatchHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	subs, err := h.matches.ListSubmissions(r.Context(), chi.URLParam(r, "matchID"), pid)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subs)
}

func (h *MatchHandler) forfeit(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	m, err := h.matches.Forfeit(r.Context(), chi.URLParam(r, "matchID"), pid)
	if err != nil {
		respondMatchError(w, r, "forfeit", err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, m)
}
