package handler

import (
	"net/http"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type MatchmakingHandler struct {
	matchmaking *service.MatchmakingService
}

func NewMatchmakingHandler(ms *service.MatchmakingService) *MatchmakingHandler {
	return &MatchmakingHandler{matchmaking: ms}
}

type difficultyRequest struct {
	Difficulty model.ProblemDifficulty `json:"difficulty"`
}

type queueCountResponse struct {
	Waiting int `json:"waiting"`
}

func (h *MatchmakingHandler) RegisterQueueRoutes(r chi.Router) {
	r.Get("/count", h.queueCount)
	r.Group(func(auth chi.Router) {
		auth.Use(middleware.Authenticator)
		auth.Post("/", h.joinQueue)
		auth.Delete("/", h.leaveQueue)
	})
}

func (h *MatchmakingHandler) RegisterRoomRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Post("/", h.createRoom)
	r.Post("/{code}/join", h.joinRoom)
	r.Delete("/{code}", h.cancelRoom)
}

func (h *MatchmakingHandler) joinQueue(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req difficultyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	status, err := h.matchmaking.JoinQueue(r.Context(), pid, req.Difficulty)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	code := http.StatusAccepted
	if status.Match != nil {
		code = http.StatusCreated
	}
	common.RespondWithJSON(w, code, status)
}

func (h *MatchmakingHandler) leaveQueue(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.matchmaking.LeaveQueue(r.Context(), pid); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MatchmakingHandler) queueCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.matchmaking.QueueCount(r.Context())
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, queueCountResponse{Waiting: n})
}

func (h *MatchmakingHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req difficultyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	room, err := h.matchmaking.CreateRoom(r.Context(), pid, req.Difficulty)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, room)
}

func (h *MatchmakingHandler) joinRoom(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	m, err := h.matchmaking.JoinRoom(r.Context(), chi.URLParam(r, "code"), pid)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, m)
}

func (h *MatchmakingHandler) cancelRoom(w http.ResponseWriter, r *http.Request) {
	pid, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.matchmaking.CancelRoom(r.Context(), chi.URLParam(r, "code"), pid); err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
