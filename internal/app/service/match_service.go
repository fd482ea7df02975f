package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Evaluator judges one submission; implemented by the in-process judge and by the
// Redis-backed remote evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, req judge.Request) (*model.Verdict, error)
	Supports(language string) bool
	Languages() []model.Language
}

type MatchConfig struct {
	// Duration is the ceiling after which an active match resolves without a winner.
	Duration       time.Duration
	MaxSourceBytes int
	// Persist bounds retries of verdict writes, which must not be lost.
	Persist common.RetryPolicy
}

// MatchService drives a match through waiting, active and resolved. Every transition is
// a single conditional update in the store; the judge runs outside of any lock.
type MatchService struct {
	matches     repository.MatchRepository
	submissions repository.SubmissionRepository
	problems    *ProblemService
	judge       Evaluator
	ledger      *StatsLedger
	events      eventbus.Publisher
	cfg         MatchConfig
	now         func() time.Time
}

func NewMatchService(
	repos *repository.Repositories,
	problems *ProblemService,
	judge Evaluator,
	ledger *StatsLedger,
	events eventbus.Publisher,
	cfg MatchConfig,
) *MatchService {
	return &MatchService{
		matches:     repos.Matches,
		submissions: repos.Submissions,
		problems:    problems,
		judge:       judge,
		ledger:      ledger,
		events:      events,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock; the timeout sweep is deterministic given it.
func (s *MatchService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MatchService) participantMatch(ctx context.Context, matchID, participantID string) (*model.Match, error) {
	m, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.HasParticipant(participantID) {
		return nil, common.Errorf("not a participant of match %s: %w", matchID, common.ErrForbidden)
	}
	return m, nil
}

func (s *MatchService) view(ctx context.Context, m *model.Match) (*model.MatchView, error) {
	v := &model.MatchView{Match: m, ElapsedMs: m.Elapsed(s.now()).Milliseconds()}
	if m.Status == model.MatchWaiting {
		return v, nil
	}
	p, err := s.problems.GetProblem(ctx, m.ProblemID)
	if err != nil {
		return nil, common.Errorf("load problem %s: %w", m.ProblemID, err)
	}
	v.Problem = p.PublicView()
	return v, nil
}

// GetMatch returns the match as seen by one of its participants. The problem is only
// revealed once the match has started.
func (s *MatchService) GetMatch(ctx context.Context, matchID, participantID string) (*model.MatchView, error) {
	m, err := s.participantMatch(ctx, matchID, participantID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, m)
}

// Ready acknowledges a participant's presence. The second acknowledgement starts the
// match; repeating one is harmless.
func (s *MatchService) Ready(ctx context.Context, matchID, participantID string) (*model.MatchView, error) {
	m, started, err := s.matches.MarkReady(ctx, matchID, participantID, s.now())
	if err != nil {
		if errors.Is(err, common.ErrStaleMatchAction) {
			metrics.StaleActions.WithLabelValues("ready").Inc()
		}
		return nil, err
	}
	if started {
		logger.Info(ctx, "match started", zap.String("match_id", m.ID))
		emit(ctx, s.events, model.EventMatchStarted, m.ID, m.Participants(), m, s.now())
	}
	return s.view(ctx, m)
}

type SubmitRequest struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

type SubmitResult struct {
	Submission *model.Submission `json:"submission"`
	// Won is set for the one submission whose verdict resolved the match.
	Won   bool         `json:"won"`
	Match *model.Match `json:"match,omitempty"`
}

// Submit stores a submission, judges it and, on a full pass, tries to resolve the match
// with the submitter as winner. Only the first passing submission to reach the store wins;
// a verdict that arrives after the match resolved is stored with Late set.
func (s *MatchService) Submit(ctx context.Context, matchID, participantID string, req SubmitRequest) (*SubmitResult, error) {
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if !s.judge.Supports(req.Language) {
		return nil, common.Errorf("language %q: %w", req.Language, common.ErrUnsupportedLanguage)
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, common.Errorf("source is empty: %w", common.ErrValidation)
	}
	if s.cfg.MaxSourceBytes > 0 && len(req.Source) > s.cfg.MaxSourceBytes {
		return nil, common.Errorf("source exceeds %d bytes: %w", s.cfg.MaxSourceBytes, common.ErrValidation)
	}

	m, err := s.participantMatch(ctx, matchID, participantID)
	if err != nil {
		return nil, err
	}
	problem, err := s.problems.GetProblem(ctx, m.ProblemID)
	if err != nil {
		return nil, common.Errorf("load problem %s: %w", m.ProblemID, err)
	}

	sub := &model.Submission{
		ID:            uuid.NewString(),
		MatchID:       matchID,
		ParticipantID: participantID,
		Language:      req.Language,
		Source:        req.Source,
		Status:        model.SubmissionJudging,
		SubmittedAt:   s.now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		if errors.Is(err, common.ErrStaleMatchAction) {
			metrics.StaleActions.WithLabelValues("submit").Inc()
		}
		return nil, err
	}

	verdict, err := s.judge.Evaluate(ctx, judge.Request{
		SubmissionID:  sub.ID,
		Language:      sub.Language,
		Source:        sub.Source,
		TestCases:     problem.TestCases,
		Comparison:    problem.Comparison,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKb: problem.MemoryLimitKb,
	})
	if err != nil {
		logger.Error(ctx, "judge failed", zap.String("submission_id", sub.ID), zap.Error(err))
		// Use a fresh context: the request may be gone but the row must not stay judging.
		if serr := s.saveVerdict(context.WithoutCancel(ctx), sub, model.SubmissionFailed, nil, false); serr != nil {
			logger.Error(ctx, "mark submission failed", zap.String("submission_id", sub.ID), zap.Error(serr))
		}
		return nil, common.Errorf("judge submission %s: %w", sub.ID, err)
	}
	metrics.SubmissionsJudged.WithLabelValues(sub.Language, passLabel(verdict.Passed)).Inc()

	result := &SubmitResult{Submission: sub}
	late := false
	if verdict.Passed {
		resolved, err := s.matches.Resolve(ctx, matchID, model.Resolution{
			WinnerID:   &participantID,
			Reason:     model.ResolutionSolved,
			ResolvedAt: s.now(),
		})
		switch {
		case err == nil:
			result.Won, result.Match = true, resolved
		case errors.Is(err, common.ErrStaleMatchAction):
			late = true
			metrics.StaleActions.WithLabelValues("verdict").Inc()
		default:
			if serr := s.saveVerdict(context.WithoutCancel(ctx), sub, model.SubmissionJudged, verdict, false); serr != nil {
				logger.Error(ctx, "save verdict failed", zap.String("submission_id", sub.ID), zap.Error(serr))
			}
			return nil, err
		}
	} else if current, err := s.matches.FindByID(ctx, matchID); err == nil {
		late = current.Status == model.MatchResolved
	}

	if err := s.saveVerdict(context.WithoutCancel(ctx), sub, model.SubmissionJudged, verdict, late); err != nil {
		return nil, err
	}
	if result.Won {
		s.finish(context.WithoutCancel(ctx), result.Match)
	}
	return result, nil
}

func passLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func (s *MatchService) saveVerdict(ctx context.Context, sub *model.Submission, status model.SubmissionStatus, v *model.Verdict, late bool) error {
	judgedAt := s.now()
	err := common.Retry(ctx, s.cfg.Persist, func() error {
		return s.submissions.SaveVerdict(ctx, sub.ID, status, v, late, judgedAt)
	})
	if err != nil {
		return common.Errorf("save verdict for %s: %w", sub.ID, err)
	}
	sub.Status, sub.Verdict, sub.Late, sub.JudgedAt = status, v, late, &judgedAt
	return nil
}

// Forfeit resolves an active match in the opponent's favour.
func (s *MatchService) Forfeit(ctx context.Context, matchID, participantID string) (*model.Match, error) {
	m, err := s.participantMatch(ctx, matchID, participantID)
	if err != nil {
		return nil, err
	}
	winner := m.Opponent(participantID)
	resolved, err := s.matches.Resolve(ctx, matchID, model.Resolution{
		WinnerID:   &winner,
		Reason:     model.ResolutionForfeit,
		ResolvedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, common.ErrStaleMatchAction) {
			metrics.StaleActions.WithLabelValues("forfeit").Inc()
		}
		return nil, err
	}
	s.finish(ctx, resolved)
	return resolved, nil
}

// SweepTimeouts resolves, without a winner, every active match that has run for the
// configured duration. No stats are applied for those.
func (s *MatchService) SweepTimeouts(ctx context.Context, limit int) (int, error) {
	now := s.now()
	overdue, err := s.matches.ListOverdue(ctx, now.Add(-s.cfg.Duration), limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, m := range overdue {
		r, err := s.matches.Resolve(ctx, m.ID, model.Resolution{Reason: model.ResolutionTimeout, ResolvedAt: now})
		if errors.Is(err, common.ErrStaleMatchAction) {
			continue
		}
		if err != nil {
			logger.Error(ctx, "timeout resolve failed", zap.String("match_id", m.ID), zap.Error(err))
			continue
		}
		resolved++
		s.finish(ctx, r)
	}
	return resolved, nil
}

// finish runs after the resolve CAS succeeded. A stats failure is logged; the
// reconciler picks the match up later.
func (s *MatchService) finish(ctx context.Context, m *model.Match) {
	metrics.MatchesResolved.WithLabelValues(string(m.Resolution)).Inc()
	logger.Info(ctx, "match resolved",
		zap.String("match_id", m.ID), zap.String("reason", string(m.Resolution)), zap.Stringp("winner_id", m.WinnerID))

	if m.WinnerID != nil {
		out, err := s.ledger.ApplyResult(ctx, m.ID, *m.WinnerID, m.LoserID())
		if err != nil {
			logger.Error(ctx, "stats apply failed, left for reconcile", zap.String("match_id", m.ID), zap.Error(err))
		} else if out.Applied {
			wd, ld := out.WinnerDelta, out.LoserDelta
			m.StatsApplied, m.WinnerRatingDelta, m.LoserRatingDelta = true, &wd, &ld
		}
	}
	emit(ctx, s.events, model.EventMatchResolved, m.ID, m.Participants(),
		model.MatchResolvedPayload{Match: m, ElapsedMs: m.Elapsed(s.now()).Milliseconds()}, s.now())
}

// ListSubmissions shows a participant their own submissions while the match runs, and
// both sides once it has resolved. Opponent source is never returned.
func (s *MatchService) ListSubmissions(ctx context.Context, matchID, participantID string) ([]model.Submission, error) {
	m, err := s.participantMatch(ctx, matchID, participantID)
	if err != nil {
		return nil, err
	}
	filter := participantID
	if m.Status == model.MatchResolved {
		filter = ""
	}
	subs, err := s.submissions.ListByMatch(ctx, matchID, filter)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].ParticipantID != participantID {
			subs[i].Source = ""
		}
	}
	return subs, nil
}

// IsDiscarded reports whether err is an expected race outcome that callers drop silently.
func IsDiscarded(err error) bool {
	return errors.Is(err, common.ErrStaleMatchAction)
}
