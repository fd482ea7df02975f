package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/common/cache"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"

	"github.com/gosimple/slug"
	"golang.org/x/sync/singleflight"
)

const (
	problemCacheSize = 256
	problemCacheTTL  = 10 * time.Minute
)

// ProblemService serves the problem catalog. Problems never change once stored, so full
// problems are cached; concurrent loads of the same id share one repository read.
type ProblemService struct {
	problemRepo repository.ProblemRepository
	languages   func() []model.Language
	limits      ProblemLimits

	cache *cache.LRU[string, *model.Problem]
	group singleflight.Group
}

// ProblemLimits are applied to problems created without explicit limits.
type ProblemLimits struct {
	TimeLimitMs   int
	MemoryLimitKb int
}

func NewProblemService(problemRepo repository.ProblemRepository, languages func() []model.Language, limits ProblemLimits) *ProblemService {
	return &ProblemService{
		problemRepo: problemRepo,
		languages:   languages,
		limits:      limits,
		cache:       cache.NewLRU[string, *model.Problem](problemCacheSize, problemCacheTTL),
	}
}

type CreateProblemRequest struct {
	ID            string                  `json:"id"` // optional, derived from the title
	Title         string                  `json:"title"`
	Description   string                  `json:"description"`
	Difficulty    model.ProblemDifficulty `json:"difficulty"`
	Comparison    model.ComparisonMode    `json:"comparison"`
	TimeLimitMs   int                     `json:"time_limit_ms"`
	MemoryLimitKb int                     `json:"memory_limit_kb"`
	TestCases     []model.TestCase        `json:"test_cases"`
}

func (s *ProblemService) CreateProblem(ctx context.Context, req CreateProblemRequest) (*model.Problem, error) {
	p := &model.Problem{
		ID:            strings.TrimSpace(req.ID),
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		Difficulty:    model.ProblemDifficulty(strings.ToLower(string(req.Difficulty))),
		Comparison:    req.Comparison,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitKb: req.MemoryLimitKb,
		TestCases:     req.TestCases,
	}
	if p.ID == "" {
		p.ID = slug.Make(p.Title)
	}
	if p.Comparison == "" {
		p.Comparison = model.ComparisonExact
	}
	if p.TimeLimitMs <= 0 {
		p.TimeLimitMs = s.limits.TimeLimitMs
	}
	if p.MemoryLimitKb <= 0 {
		p.MemoryLimitKb = s.limits.MemoryLimitKb
	}
	if err := validateProblem(p); err != nil {
		return nil, err
	}

	if err := s.problemRepo.Create(ctx, p); err != nil {
		return nil, common.Errorf("failed to create problem: %w", err)
	}
	return p, nil
}

func validateProblem(p *model.Problem) error {
	switch {
	case p.ID == "" || !slug.IsSlug(p.ID):
		return common.Errorf("problem id %q must be a slug: %w", p.ID, common.ErrValidation)
	case p.Title == "":
		return common.Errorf("problem title is required: %w", common.ErrValidation)
	case !p.Difficulty.Valid():
		return common.Errorf("unknown difficulty %q: %w", p.Difficulty, common.ErrValidation)
	case !p.Comparison.Valid():
		return common.Errorf("unknown comparison mode %q: %w", p.Comparison, common.ErrValidation)
	case len(p.TestCases) == 0:
		return common.Errorf("problem %s has no test cases: %w", p.ID, common.ErrValidation)
	}
	for i, tc := range p.TestCases {
		if !json.Valid(tc.Input) || !json.Valid(tc.ExpectedOutput) {
			return common.Errorf("test case %d of %s is not valid JSON: %w", i, p.ID, common.ErrValidation)
		}
	}
	return nil
}

// GetProblem returns the full problem including hidden cases. Callers that show a problem
// to a participant must use PublicView.
func (s *ProblemService) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}
	v, err, _ := s.group.Do(id, func() (any, error) {
		p, err := s.problemRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Problem), nil
}

// GetProblemDetails hides hidden test cases from everyone but admins.
func (s *ProblemService) GetProblemDetails(ctx context.Context, id, role string) (*model.Problem, error) {
	p, err := s.GetProblem(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == model.RoleAdmin {
		return p, nil
	}
	return p.PublicView(), nil
}

func (s *ProblemService) ListProblems(ctx context.Context, page, pageSize int, difficulty model.ProblemDifficulty) ([]model.ProblemSummary, int, error) {
	if difficulty != "" && !difficulty.Valid() {
		return nil, 0, common.Errorf("unknown difficulty %q: %w", difficulty, common.ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	problems, total, err := s.problemRepo.List(ctx, difficulty, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.ProblemSummary, 0, len(problems))
	for i := range problems {
		out = append(out, problems[i].Summary())
	}
	return out, total, nil
}

// PickProblem chooses uniformly among the problems of a difficulty; empty means any.
func (s *ProblemService) PickProblem(ctx context.Context, difficulty model.ProblemDifficulty) (string, error) {
	ids, err := s.problemRepo.ListIDs(ctx, difficulty)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no %s problems available: %w", difficultyLabel(difficulty), common.ErrNotFound)
	}
	return ids[rand.IntN(len(ids))], nil
}

func difficultyLabel(d model.ProblemDifficulty) string {
	if d == "" {
		return "published"
	}
	return string(d)
}

func (s *ProblemService) Languages() []model.Language {
	if s.languages == nil {
		return nil
	}
	return s.languages()
}
