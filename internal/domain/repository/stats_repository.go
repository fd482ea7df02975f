package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
)

// RatingFunc computes rating deltas from the ratings read inside the ledger transaction.
type RatingFunc func(winnerRating, loserRating int) (winnerDelta, loserDelta int)

// StatsRepository commits match results to participant records. ApplyResult is
// idempotent per match: the match's stats_applied flag is checked and set in the same
// transaction as the participant updates.
type StatsRepository interface {
	ApplyResult(ctx context.Context, matchID, winnerID, loserID string, rate RatingFunc) (*model.StatsOutcome, error)
	// ListPending returns resolved matches with a winner whose stats were never applied.
	ListPending(ctx context.Context, limit int) ([]model.Match, error)
}

type pgStatsRepository struct {
	db *sql.DB
}

func NewPgStatsRepository(db *sql.DB) StatsRepository {
	return &pgStatsRepository{db: db}
}

// checkResult verifies that the stored match outcome is the one being applied.
func checkResult(m *model.Match, winnerID, loserID string) error {
	if m.Status != model.MatchResolved || m.WinnerID == nil {
		return common.ErrMatchNotResolved
	}
	if *m.WinnerID != winnerID || m.LoserID() != loserID {
		return fmt.Errorf("winner/loser do not match the resolved match: %w", common.ErrValidation)
	}
	return nil
}

// floorRating keeps ratings non-negative and returns the delta actually applied.
func floorRating(rating, delta int) (int, int) {
	if rating+delta < 0 {
		return 0, -rating
	}
	return rating + delta, delta
}

func (r *pgStatsRepository) ApplyResult(ctx context.Context, matchID, winnerID, loserID string, rate RatingFunc) (*model.StatsOutcome, error) {
	const op = "pgStatsRepository.ApplyResult"
	out := &model.StatsOutcome{MatchID: matchID, WinnerID: winnerID, LoserID: loserID}
	err := withTx(ctx, r.db, op, func(tx *sql.Tx) error {
		m, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, matchID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(op, "match")
			}
			return common.WrapStoreError(op+": lock match", err)
		}
		if err := checkResult(m, winnerID, loserID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		// Lock participants in id order so concurrent ledgers cannot deadlock.
		rows, err := tx.QueryContext(ctx,
			`SELECT id, rating FROM participants WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`, winnerID, loserID)
		if err != nil {
			return common.WrapStoreError(op+": lock participants", err)
		}
		ratings := make(map[string]int, 2)
		for rows.Next() {
			var id string
			var rating int
			if err := rows.Scan(&id, &rating); err != nil {
				rows.Close()
				return common.WrapStoreError(op+": scan participant", err)
			}
			ratings[id] = rating
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return common.WrapStoreError(op+": participants", err)
		}
		if len(ratings) != 2 {
			return notFound(op, "participant")
		}

		if m.StatsApplied {
			out.WinnerRating, out.LoserRating = ratings[winnerID], ratings[loserID]
			return nil
		}

		wDelta, lDelta := rate(ratings[winnerID], ratings[loserID])
		out.WinnerRating, out.WinnerDelta = floorRating(ratings[winnerID], wDelta)
		out.LoserRating, out.LoserDelta = floorRating(ratings[loserID], lDelta)

		update := `UPDATE participants SET rating = $2, wins = wins + $3, losses = losses + $4,
		             total_matches = total_matches + 1, updated_at = now()
		           WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, winnerID, out.WinnerRating, 1, 0); err != nil {
			return common.WrapStoreError(op+": update winner", err)
		}
		if _, err := tx.ExecContext(ctx, update, loserID, out.LoserRating, 0, 1); err != nil {
			return common.WrapStoreError(op+": update loser", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE matches SET stats_applied = true, winner_rating_delta = $2, loser_rating_delta = $3 WHERE id = $1`,
			matchID, out.WinnerDelta, out.LoserDelta)
		if err != nil {
			return common.WrapStoreError(op+": mark applied", err)
		}
		out.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pgStatsRepository) ListPending(ctx context.Context, limit int) ([]model.Match, error) {
	const op = "pgStatsRepository.ListPending"
	query := `SELECT ` + matchColumns + ` FROM matches
	          WHERE status = 'resolved' AND winner_id IS NOT NULL AND NOT stats_applied
	          ORDER BY resolved_at, id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, common.WrapStoreError(op, err)
	}
	return scanMatches(rows, op)
}
