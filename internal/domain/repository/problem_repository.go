package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// ProblemRepository stores published problems. There is no update: problems are immutable.
type ProblemRepository interface {
	Create(ctx context.Context, p *model.Problem) error
	FindByID(ctx context.Context, id string) (*model.Problem, error)
	List(ctx context.Context, difficulty model.ProblemDifficulty, limit, offset int) ([]model.Problem, int, error)
	ListIDs(ctx context.Context, difficulty model.ProblemDifficulty) ([]string, error)
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

func (r *pgProblemRepository) Create(ctx context.Context, p *model.Problem) error {
	cases, err := json.Marshal(p.TestCases)
	if err != nil {
		return fmt.Errorf("pgProblemRepository.Create: encode test cases: %w", err)
	}
	query := `INSERT INTO problems (id, title, description, difficulty, comparison, time_limit_ms, memory_limit_kb, test_cases)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, p.ID, p.Title, p.Description, p.Difficulty, p.Comparison,
		p.TimeLimitMs, p.MemoryLimitKb, cases).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("problem %q already exists: %w", p.ID, common.ErrConflict)
		}
		return common.WrapStoreError("pgProblemRepository.Create", err)
	}
	return nil
}

func (r *pgProblemRepository) FindByID(ctx context.Context, id string) (*model.Problem, error) {
	query := `SELECT id, title, description, difficulty, comparison, time_limit_ms, memory_limit_kb, test_cases, created_at
	          FROM problems WHERE id = $1`
	p := &model.Problem{}
	var cases []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Description, &p.Difficulty, &p.Comparison, &p.TimeLimitMs, &p.MemoryLimitKb, &cases, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("pgProblemRepository.FindByID", "problem "+id)
		}
		return nil, common.WrapStoreError("pgProblemRepository.FindByID", err)
	}
	if err := json.Unmarshal(cases, &p.TestCases); err != nil {
		return nil, fmt.Errorf("pgProblemRepository.FindByID: decode test cases: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) List(ctx context.Context, difficulty model.ProblemDifficulty, limit, offset int) ([]model.Problem, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM problems WHERE ($1 = '' OR difficulty = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, string(difficulty)).Scan(&total); err != nil {
		return nil, 0, common.WrapStoreError("pgProblemRepository.List: count", err)
	}

	query := `SELECT id, title, description, difficulty, comparison, time_limit_ms, memory_limit_kb,
	                 jsonb_array_length(test_cases), created_at
	          FROM problems
	          WHERE ($1 = '' OR difficulty = $1)
	          ORDER BY created_at, id
	          LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, string(difficulty), limit, offset)
	if err != nil {
		return nil, 0, common.WrapStoreError("pgProblemRepository.List", err)
	}
	defer rows.Close()

	var problems []model.Problem
	for rows.Next() {
		var p model.Problem
		var caseCount int
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Difficulty, &p.Comparison, &p.TimeLimitMs, &p.MemoryLimitKb, &caseCount, &p.CreatedAt); err != nil {
			return nil, 0, common.WrapStoreError("pgProblemRepository.List: scan", err)
		}
		// List rows carry only the case count; callers load full problems by id.
		p.TestCases = make([]model.TestCase, caseCount)
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, common.WrapStoreError("pgProblemRepository.List: rows", err)
	}
	return problems, total, nil
}

func (r *pgProblemRepository) ListIDs(ctx context.Context, difficulty model.ProblemDifficulty) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM problems WHERE ($1 = '' OR difficulty = $1) ORDER BY id`, string(difficulty))
	if err != nil {
		return nil, common.WrapStoreError("pgProblemRepository.ListIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.WrapStoreError("pgProblemRepository.ListIDs: scan", err)
		}
		ids = append(ids, id)
	}
	return ids, common.WrapStoreError("pgProblemRepository.ListIDs: rows", rows.Err())
}
