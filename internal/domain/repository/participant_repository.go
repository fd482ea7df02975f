package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ParticipantRepository interface {
	Create(ctx context.Context, p *model.Participant) error
	FindByEmail(ctx context.Context, email string) (*model.Participant, error)
	FindByUsername(ctx context.Context, username string) (*model.Participant, error)
	FindByID(ctx context.Context, id string) (*model.Participant, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error)
}

type pgParticipantRepository struct {
	db *sql.DB
}

func NewPgParticipantRepository(db *sql.DB) ParticipantRepository {
	return &pgParticipantRepository{db: db}
}

const participantColumns = `id, username, email, hashed_password, display_name, role, rating, wins, losses, total_matches, created_at, updated_at`

func scanParticipant(row rowScanner) (*model.Participant, error) {
	p := &model.Participant{}
	err := row.Scan(
		&p.ID, &p.Username, &p.Email, &p.HashedPassword, &p.DisplayName, &p.Role,
		&p.Rating, &p.Wins, &p.Losses, &p.TotalMatches, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *pgParticipantRepository) Create(ctx context.Context, p *model.Participant) error {
	query := `INSERT INTO participants (id, username, email, hashed_password, display_name, role, rating)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, p.ID, p.Username, p.Email, p.HashedPassword, p.DisplayName, p.Role, p.Rating).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint violation
			return fmt.Errorf("participant with given username or email already exists: %w", common.ErrConflict)
		}
		return common.WrapStoreError("pgParticipantRepository.Create", err)
	}
	return nil
}

func (r *pgParticipantRepository) findOne(ctx context.Context, op, where string, arg any) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE ` + where + ` = $1`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op, "participant")
		}
		return nil, common.WrapStoreError(op, err)
	}
	return p, nil
}

func (r *pgParticipantRepository) FindByEmail(ctx context.Context, email string) (*model.Participant, error) {
	return r.findOne(ctx, "pgParticipantRepository.FindByEmail", "email", email)
}

func (r *pgParticipantRepository) FindByUsername(ctx context.Context, username string) (*model.Participant, error) {
	return r.findOne(ctx, "pgParticipantRepository.FindByUsername", "username", username)
}

func (r *pgParticipantRepository) FindByID(ctx context.Context, id string) (*model.Participant, error) {
	return r.findOne(ctx, "pgParticipantRepository.FindByID", "id", id)
}

func (r *pgParticipantRepository) Leaderboard(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	query := `SELECT id, username, display_name, rating, wins, losses, total_matches
	          FROM participants
	          ORDER BY rating DESC, wins DESC, id
	          LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, common.WrapStoreError("pgParticipantRepository.Leaderboard", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	rank := offset
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.ParticipantID, &e.Username, &e.DisplayName, &e.Rating, &e.Wins, &e.Losses, &e.TotalMatches); err != nil {
			return nil, common.WrapStoreError("pgParticipantRepository.Leaderboard: scan", err)
		}
		rank++
		e.Rank = rank
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapStoreError("pgParticipantRepository.Leaderboard: rows", err)
	}
	return entries, nil
}
