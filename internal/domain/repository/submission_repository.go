package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
)

type SubmissionRepository interface {
	// Create bumps the participant's submission counter and stores s with Seq set to
	// the new counter value. It fails unless the match is active.
	Create(ctx context.Context, s *model.Submission) error
	SaveVerdict(ctx context.Context, id string, status model.SubmissionStatus, v *model.Verdict, late bool, judgedAt time.Time) error
	FindByID(ctx context.Context, id string) (*model.Submission, error)
	// ListByMatch returns submissions in seq order. An empty participantID lists both players.
	ListByMatch(ctx context.Context, matchID, participantID string) ([]model.Submission, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

const submissionColumns = `id, match_id, participant_id, language, source, seq, status, verdict, late, submitted_at, judged_at`

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var (
		s        model.Submission
		verdict  []byte
		judgedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.MatchID, &s.ParticipantID, &s.Language, &s.Source, &s.Seq, &s.Status, &verdict, &s.Late, &s.SubmittedAt, &judgedAt)
	if err != nil {
		return nil, err
	}
	if len(verdict) > 0 {
		s.Verdict = &model.Verdict{}
		if err := json.Unmarshal(verdict, s.Verdict); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		s.JudgedAt = &t
	}
	return &s, nil
}

// submitConflict explains why a submission was refused for a match in the given state.
func submitConflict(m *model.Match, participantID string) error {
	switch {
	case !m.HasParticipant(participantID):
		return common.ErrForbidden
	case m.Status == model.MatchResolved:
		return common.ErrStaleMatchAction
	}
	return common.ErrMatchNotActive
}

func (r *pgSubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	const op = "pgSubmissionRepository.Create"
	return withTx(ctx, r.db, op, func(tx *sql.Tx) error {
		bump := `UPDATE matches SET
		           player1_submissions = player1_submissions + CASE WHEN player1_id = $2 THEN 1 ELSE 0 END,
		           player2_submissions = player2_submissions + CASE WHEN player2_id = $2 THEN 1 ELSE 0 END
		         WHERE id = $1 AND status = 'active' AND (player1_id = $2 OR player2_id = $2)
		         RETURNING CASE WHEN player1_id = $2 THEN player1_submissions ELSE player2_submissions END`
		err := tx.QueryRowContext(ctx, bump, s.MatchID, s.ParticipantID).Scan(&s.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			m, ferr := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, s.MatchID))
			if errors.Is(ferr, sql.ErrNoRows) {
				return notFound(op, "match")
			}
			if ferr != nil {
				return common.WrapStoreError(op+": classify", ferr)
			}
			return fmt.Errorf("%s: %w", op, submitConflict(m, s.ParticipantID))
		}
		if err != nil {
			return common.WrapStoreError(op+": bump counter", err)
		}

		insert := `INSERT INTO submissions (id, match_id, participant_id, language, source, seq, status, submitted_at)
		           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err = tx.ExecContext(ctx, insert, s.ID, s.MatchID, s.ParticipantID, s.Language, s.Source, s.Seq, s.Status, s.SubmittedAt)
		return common.WrapStoreError(op+": insert", err)
	})
}

func (r *pgSubmissionRepository) SaveVerdict(ctx context.Context, id string, status model.SubmissionStatus, v *model.Verdict, late bool, judgedAt time.Time) error {
	const op = "pgSubmissionRepository.SaveVerdict"
	var verdict []byte
	if v != nil {
		var err error
		if verdict, err = json.Marshal(v); err != nil {
			return fmt.Errorf("%s: encode verdict: %w", op, err)
		}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET status = $2, verdict = $3, late = $4, judged_at = $5 WHERE id = $1`,
		id, status, verdict, late, judgedAt)
	if err != nil {
		return common.WrapStoreError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, "submission")
	}
	return nil
}

func (r *pgSubmissionRepository) FindByID(ctx context.Context, id string) (*model.Submission, error) {
	const op = "pgSubmissionRepository.FindByID"
	s, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op, "submission")
		}
		return nil, common.WrapStoreError(op, err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) ListByMatch(ctx context.Context, matchID, participantID string) ([]model.Submission, error) {
	const op = "pgSubmissionRepository.ListByMatch"
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE match_id = $1 AND ($2 = '' OR participant_id = $2)
	          ORDER BY submitted_at, seq`
	rows, err := r.db.QueryContext(ctx, query, matchID, participantID)
	if err != nil {
		return nil, common.WrapStoreError(op, err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, common.WrapStoreError(op+": scan", err)
		}
		subs = append(subs, *s)
	}
	return subs, common.WrapStoreError(op+": rows", rows.Err())
}
