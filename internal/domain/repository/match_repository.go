package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// MatchRepository owns every match state transition. Each transition is a single
// conditional update so that concurrent callers are serialized by the store.
type MatchRepository interface {
	// CreateFromQueue removes both participants' queue entries and inserts m in one
	// transaction. ErrQueueEntryGone means another pairing or a cancel won.
	CreateFromQueue(ctx context.Context, m *model.Match) error
	// CreateRoom inserts a room shell owned by m.Player1ID. A room code collision
	// returns ErrConflict.
	CreateRoom(ctx context.Context, m *model.Match) error
	JoinRoom(ctx context.Context, code, joinerID string) (*model.Match, error)
	CancelRoom(ctx context.Context, code, ownerID string) error
	FindByID(ctx context.Context, id string) (*model.Match, error)
	FindByRoomCode(ctx context.Context, code string) (*model.Match, error)
	// MarkReady records a presence acknowledgement and reports whether it started the match.
	MarkReady(ctx context.Context, matchID, participantID string, now time.Time) (*model.Match, bool, error)
	// Resolve is the single active -> resolved compare-and-swap.
	Resolve(ctx context.Context, matchID string, res model.Resolution) (*model.Match, error)
	ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]model.Match, error)
	ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]model.Match, error)
}

type pgMatchRepository struct {
	db *sql.DB
}

func NewPgMatchRepository(db *sql.DB) MatchRepository {
	return &pgMatchRepository{db: db}
}

const matchColumns = `id, room_code, source, player1_id, player2_id, problem_id, status,
	player1_ready, player2_ready, player1_submissions, player2_submissions,
	winner_id, resolution, stats_applied, winner_rating_delta, loser_rating_delta,
	created_at, started_at, resolved_at`

func scanMatch(row rowScanner) (*model.Match, error) {
	var (
		m                       model.Match
		player2, winner, reason sql.NullString
		winnerDelta, loserDelta sql.NullInt64
		startedAt, resolvedAt   sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.RoomCode, &m.Source, &m.Player1ID, &player2, &m.ProblemID, &m.Status,
		&m.Player1Ready, &m.Player2Ready, &m.Player1Submissions, &m.Player2Submissions,
		&winner, &reason, &m.StatsApplied, &winnerDelta, &loserDelta,
		&m.CreatedAt, &startedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Player2ID = player2.String
	m.Resolution = model.ResolutionReason(reason.String)
	if winner.Valid {
		w := winner.String
		m.WinnerID = &w
	}
	if winnerDelta.Valid {
		d := int(winnerDelta.Int64)
		m.WinnerRatingDelta = &d
	}
	if loserDelta.Valid {
		d := int(loserDelta.Int64)
		m.LoserRatingDelta = &d
	}
	if startedAt.Valid {
		t := startedAt.Time
		m.StartedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

func scanMatches(rows *sql.Rows, op string) ([]model.Match, error) {
	defer rows.Close()
	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, common.WrapStoreError(op+": scan", err)
		}
		matches = append(matches, *m)
	}
	return matches, common.WrapStoreError(op+": rows", rows.Err())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMatch(ctx context.Context, db execer, m *model.Match) error {
	query := `INSERT INTO matches (id, room_code, source, player1_id, player2_id, problem_id, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := db.ExecContext(ctx, query, m.ID, m.RoomCode, m.Source, m.Player1ID, nullString(m.Player2ID), m.ProblemID, m.Status, m.CreatedAt)
	return err
}

func (r *pgMatchRepository) CreateFromQueue(ctx context.Context, m *model.Match) error {
	const op = "pgMatchRepository.CreateFromQueue"
	return withTx(ctx, r.db, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM matchmaking_queue WHERE participant_id IN ($1, $2)`, m.Player1ID, m.Player2ID)
		if err != nil {
			return common.WrapStoreError(op+": dequeue", err)
		}
		if n, _ := res.RowsAffected(); n != 2 {
			return fmt.Errorf("%s: %w", op, common.ErrQueueEntryGone)
		}
		if err := insertMatch(ctx, tx, m); err != nil {
			return common.WrapStoreError(op+": insert", err)
		}
		return nil
	})
}

func (r *pgMatchRepository) CreateRoom(ctx context.Context, m *model.Match) error {
	if err := insertMatch(ctx, r.db, m); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("room code %s taken: %w", m.RoomCode, common.ErrConflict)
		}
		return common.WrapStoreError("pgMatchRepository.CreateRoom", err)
	}
	return nil
}

// roomOwner is read after a conditional update on a room matched no rows, to tell the
// caller why.
func (r *pgMatchRepository) roomOwner(ctx context.Context, code string) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT player1_id FROM matches WHERE room_code = $1 AND source = 'room'`, code).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrRoomNotFound
	}
	return owner, err
}

func (r *pgMatchRepository) JoinRoom(ctx context.Context, code, joinerID string) (*model.Match, error) {
	const op = "pgMatchRepository.JoinRoom"
	query := `UPDATE matches SET player2_id = $2
	          WHERE room_code = $1 AND source = 'room' AND status = 'waiting'
	            AND player2_id IS NULL AND player1_id <> $2
	          RETURNING ` + matchColumns
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, code, joinerID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, common.WrapStoreError(op, err)
	}

	owner, err := r.roomOwner(ctx, code)
	switch {
	case errors.Is(err, common.ErrRoomNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		return nil, common.WrapStoreError(op+": classify", err)
	case owner == joinerID:
		return nil, fmt.Errorf("%s: %w", op, common.ErrSelfJoinRejected)
	}
	return nil, fmt.Errorf("%s: %w", op, common.ErrRoomAlreadyFull)
}

func (r *pgMatchRepository) CancelRoom(ctx context.Context, code, ownerID string) error {
	const op = "pgMatchRepository.CancelRoom"
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM matches WHERE room_code = $1 AND source = 'room' AND status = 'waiting'
		   AND player2_id IS NULL AND player1_id = $2`, code, ownerID)
	if err != nil {
		return common.WrapStoreError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	owner, err := r.roomOwner(ctx, code)
	switch {
	case errors.Is(err, common.ErrRoomNotFound):
		return fmt.Errorf("%s: %w", op, err)
	case err != nil:
		return common.WrapStoreError(op+": classify", err)
	case owner != ownerID:
		return fmt.Errorf("%s: only the owner can cancel a room: %w", op, common.ErrForbidden)
	}
	return fmt.Errorf("%s: %w", op, common.ErrRoomAlreadyFull)
}

func (r *pgMatchRepository) findOne(ctx context.Context, op, where, arg string) (*model.Match, error) {
	m, err := scanMatch(r.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE `+where+` = $1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op, "match")
		}
		return nil, common.WrapStoreError(op, err)
	}
	return m, nil
}

func (r *pgMatchRepository) FindByID(ctx context.Context, id string) (*model.Match, error) {
	return r.findOne(ctx, "pgMatchRepository.FindByID", "id", id)
}

func (r *pgMatchRepository) FindByRoomCode(ctx context.Context, code string) (*model.Match, error) {
	m, err := r.findOne(ctx, "pgMatchRepository.FindByRoomCode", "room_code", code)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("pgMatchRepository.FindByRoomCode: %w", common.ErrRoomNotFound)
	}
	return m, err
}

func (r *pgMatchRepository) MarkReady(ctx context.Context, matchID, participantID string, now time.Time) (*model.Match, bool, error) {
	const op = "pgMatchRepository.MarkReady"
	var (
		out     *model.Match
		started bool
	)
	err := withTx(ctx, r.db, op, func(tx *sql.Tx) error {
		m, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, matchID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(op, "match")
			}
			return common.WrapStoreError(op+": lock", err)
		}
		if err := checkReady(m, participantID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		out = m
		if m.Status == model.MatchActive {
			return nil
		}

		started = applyReady(m, participantID, now)
		_, err = tx.ExecContext(ctx,
			`UPDATE matches SET player1_ready = $2, player2_ready = $3, status = $4, started_at = $5 WHERE id = $1`,
			m.ID, m.Player1Ready, m.Player2Ready, m.Status, m.StartedAt)
		if err != nil {
			return common.WrapStoreError(op+": update", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, started, nil
}

// checkReady validates a presence acknowledgement against the current match row.
func checkReady(m *model.Match, participantID string) error {
	switch {
	case !m.HasParticipant(participantID):
		return common.ErrForbidden
	case m.Status == model.MatchResolved:
		return common.ErrStaleMatchAction
	}
	return nil
}

// applyReady sets the participant's flag and starts the match once both flags are set.
func applyReady(m *model.Match, participantID string, now time.Time) bool {
	if participantID == m.Player1ID {
		m.Player1Ready = true
	} else {
		m.Player2Ready = true
	}
	if m.Status == model.MatchWaiting && m.IsFull() && m.Player1Ready && m.Player2Ready {
		m.Status = model.MatchActive
		m.StartedAt = &now
		return true
	}
	return false
}

func (r *pgMatchRepository) Resolve(ctx context.Context, matchID string, res model.Resolution) (*model.Match, error) {
	const op = "pgMatchRepository.Resolve"
	var winner sql.NullString
	if res.WinnerID != nil {
		winner = sql.NullString{String: *res.WinnerID, Valid: true}
	}
	query := `UPDATE matches SET status = 'resolved', winner_id = $2, resolution = $3, resolved_at = $4
	          WHERE id = $1 AND status = 'active'
	          RETURNING ` + matchColumns
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, matchID, winner, string(res.Reason), res.ResolvedAt))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, common.WrapStoreError(op, err)
	}

	var status model.MatchStatus
	err = r.db.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = $1`, matchID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op, "match")
		}
		return nil, common.WrapStoreError(op+": classify", err)
	}
	return nil, fmt.Errorf("%s: %w", op, resolveConflict(status))
}

func resolveConflict(status model.MatchStatus) error {
	if status == model.MatchResolved {
		return common.ErrStaleMatchAction
	}
	return common.ErrMatchNotActive
}

func (r *pgMatchRepository) ListOverdue(ctx context.Context, startedBefore time.Time, limit int) ([]model.Match, error) {
	const op = "pgMatchRepository.ListOverdue"
	query := `SELECT ` + matchColumns + ` FROM matches
	          WHERE status = 'active' AND started_at <= $1
	          ORDER BY started_at, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, startedBefore, limit)
	if err != nil {
		return nil, common.WrapStoreError(op, err)
	}
	return scanMatches(rows, op)
}

func (r *pgMatchRepository) ListByParticipant(ctx context.Context, participantID string, limit, offset int) ([]model.Match, error) {
	const op = "pgMatchRepository.ListByParticipant"
	query := `SELECT ` + matchColumns + ` FROM matches
	          WHERE player1_id = $1 OR player2_id = $1
	          ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, participantID, limit, offset)
	if err != nil {
		return nil, common.WrapStoreError(op, err)
	}
	return scanMatches(rows, op)
}
