package handler

import (
	"net/http"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ProblemHandler struct {
	problemService *service.ProblemService
	// catalog is the source re-imported by the admin import route; nil disables it.
	catalog service.CatalogSource
}

func NewProblemHandler(ps *service.ProblemService, catalog service.CatalogSource) *ProblemHandler {
	return &ProblemHandler{problemService: ps, catalog: catalog}
}

func (h *ProblemHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(public chi.Router) {
		public.Use(middleware.OptionalAuthenticator)
		public.Get("/", h.listProblems)
		public.Get("/{problemID}", h.getProblem)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.Authenticator)
		admin.Use(middleware.AdminOnly)
		admin.Post("/", h.createProblem)
		admin.Post("/import", h.importCatalog)
	})
}

// RegisterLanguageRoutes serves the judge's language registry.
func (h *ProblemHandler) RegisterLanguageRoutes(r chi.Router) {
	r.Get("/", h.listLanguages)
}

func (h *ProblemHandler) createProblem(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProblemRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	problem, err := h.problemService.CreateProblem(r.Context(), req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, problem)
}

type paginatedProblemsResponse struct {
	Problems []model.ProblemSummary `json:"problems"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

func (h *ProblemHandler) listProblems(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page <= 0 {
		page = 1
	}
	pageSize := queryInt(r, "pageSize", 20)
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	difficulty := model.ProblemDifficulty(r.URL.Query().Get("difficulty"))

	problems, total, err := h.problemService.ListProblems(r.Context(), page, pageSize, difficulty)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, paginatedProblemsResponse{
		Problems: problems,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *ProblemHandler) getProblem(w http.ResponseWriter, r *http.Request) {
	role, _ := middleware.GetRoleFromContext(r.Context())
	problem, err := h.problemService.GetProblemDetails(r.Context(), chi.URLParam(r, "problemID"), role)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, problem)
}

func (h *ProblemHandler) importCatalog(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		common.RespondWithError(w, http.StatusNotFound, "no problem catalog configured")
		return
	}
	report, err := h.problemService.ImportCatalog(r.Context(), h.catalog)
	if err != nil {
		// Partial imports still report what went in.
		logger.Warn(r.Context(), "problem catalog import had failures", zap.Error(err))
	}
	if report == nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, report)
}

func (h *ProblemHandler) listLanguages(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, h.problemService.Languages())
}
