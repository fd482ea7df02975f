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

// QueueRepository holds open matchmaking requests. Entries are removed either by an
// explicit cancel or by MatchRepository.CreateFromQueue, never both.
type QueueRepository interface {
	Enqueue(ctx context.Context, e *model.QueueEntry) error
	Remove(ctx context.Context, participantID string) error
	Find(ctx context.Context, participantID string) (*model.QueueEntry, error)
	// ListWaiting returns entries oldest first; ties break on participant id.
	ListWaiting(ctx context.Context, limit int) ([]model.QueueEntry, error)
	Count(ctx context.Context) (int, error)
}

type pgQueueRepository struct {
	db *sql.DB
}

func NewPgQueueRepository(db *sql.DB) QueueRepository {
	return &pgQueueRepository{db: db}
}

const queueColumns = `participant_id, username, display_name, rating, difficulty, enqueued_at`

func scanQueueEntry(row rowScanner) (*model.QueueEntry, error) {
	e := &model.QueueEntry{}
	err := row.Scan(&e.ParticipantID, &e.Username, &e.DisplayName, &e.Rating, &e.Difficulty, &e.EnqueuedAt)
	return e, err
}

func (r *pgQueueRepository) Enqueue(ctx context.Context, e *model.QueueEntry) error {
	query := `INSERT INTO matchmaking_queue (` + queueColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, e.ParticipantID, e.Username, e.DisplayName, e.Rating, string(e.Difficulty), e.EnqueuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("participant already queued: %w", common.ErrConflict)
		}
		return common.WrapStoreError("pgQueueRepository.Enqueue", err)
	}
	return nil
}

func (r *pgQueueRepository) Remove(ctx context.Context, participantID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM matchmaking_queue WHERE participant_id = $1`, participantID)
	if err != nil {
		return common.WrapStoreError("pgQueueRepository.Remove", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("pgQueueRepository.Remove", "queue entry")
	}
	return nil
}

func (r *pgQueueRepository) Find(ctx context.Context, participantID string) (*model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM matchmaking_queue WHERE participant_id = $1`
	e, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("pgQueueRepository.Find", "queue entry")
		}
		return nil, common.WrapStoreError("pgQueueRepository.Find", err)
	}
	return e, nil
}

func (r *pgQueueRepository) ListWaiting(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM matchmaking_queue ORDER BY enqueued_at, participant_id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, common.WrapStoreError("pgQueueRepository.ListWaiting", err)
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, common.WrapStoreError("pgQueueRepository.ListWaiting: scan", err)
		}
		entries = append(entries, *e)
	}
	return entries, common.WrapStoreError("pgQueueRepository.ListWaiting: rows", rows.Err())
}

func (r *pgQueueRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matchmaking_queue`).Scan(&n); err != nil {
		return 0, common.WrapStoreError("pgQueueRepository.Count", err)
	}
	return n, nil
}
