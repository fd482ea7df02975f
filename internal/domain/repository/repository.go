package repository

import (
	"context"
	"database/sql"
	"fmt"

	"duel_arena/internal/common"
)

// Repositories bundles every store the engine needs so that the Postgres and the
// in-memory backends can be swapped as a unit.
type Repositories struct {
	Participants ParticipantRepository
	Problems     ProblemRepository
	Queue        QueueRepository
	Matches      MatchRepository
	Submissions  SubmissionRepository
	Stats        StatsRepository
}

func NewPgRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Participants: NewPgParticipantRepository(db),
		Problems:     NewPgProblemRepository(db),
		Queue:        NewPgQueueRepository(db),
		Matches:      NewPgMatchRepository(db),
		Submissions:  NewPgSubmissionRepository(db),
		Stats:        NewPgStatsRepository(db),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// withTx runs fn inside a transaction that commits only if fn returns nil.
func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapStoreError(op+": begin", err)
	}
	defer tx.Rollback() // Rollback if not committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.WrapStoreError(op+": commit", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(op, what string) error {
	return fmt.Errorf("%s: %s: %w", op, what, common.ErrNotFound)
}
