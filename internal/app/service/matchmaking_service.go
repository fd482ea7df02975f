package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	roomCodeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeAttempts  = 5
	pairingScanLimit  = 200
	pairingMaxRescans = 50
	pendingMatchScan  = 5
)

type MatchmakingConfig struct {
	// RatingBand > 0 only pairs entries whose ratings differ by at most the band.
	RatingBand     int
	RoomCodeLength int
	// CountRetry covers the queue count, which is retried silently.
	CountRetry common.RetryPolicy
}

type MatchmakingService struct {
	participants repository.ParticipantRepository
	queue        repository.QueueRepository
	matches      repository.MatchRepository
	problems     *ProblemService
	events       eventbus.Publisher
	cfg          MatchmakingConfig
	now          func() time.Time
}

func NewMatchmakingService(repos *repository.Repositories, problems *ProblemService, events eventbus.Publisher, cfg MatchmakingConfig) *MatchmakingService {
	if cfg.RoomCodeLength <= 0 {
		cfg.RoomCodeLength = 8
	}
	return &MatchmakingService{
		participants: repos.Participants,
		queue:        repos.Queue,
		matches:      repos.Matches,
		problems:     problems,
		events:       events,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MatchmakingService) SetClock(now func() time.Time) {
	s.now = now
}

// NormalizeRoomCode upper-cases and trims a user supplied code and rejects anything that
// is not exactly length characters of A-Z0-9.
func NormalizeRoomCode(code string, length int) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != length {
		return "", fmt.Errorf("room code must be %d characters: %w", length, common.ErrInvalidRoomCode)
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(roomCodeAlphabet, rune(code[i])) {
			return "", fmt.Errorf("room code has invalid character %q: %w", code[i], common.ErrInvalidRoomCode)
		}
	}
	return code, nil
}

// NewRoomCode draws a code from crypto/rand. Rejection sampling keeps every character
// equally likely.
func NewRoomCode(length int) (string, error) {
	const limit = 256 - 256%len(roomCodeAlphabet)
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// JoinQueue enqueues the participant and immediately tries to pair. Joining while already
// queued keeps the original entry and position.
func (s *MatchmakingService) JoinQueue(ctx context.Context, participantID string, difficulty model.ProblemDifficulty) (*model.QueueStatus, error) {
	difficulty = model.ProblemDifficulty(strings.ToLower(string(difficulty)))
	if difficulty != "" && !difficulty.Valid() {
		return nil, common.Errorf("unknown difficulty %q: %w", difficulty, common.ErrValidation)
	}
	p, err := s.participants.FindByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	entry := &model.QueueEntry{
		ParticipantID: p.ID,
		Username:      p.Username,
		DisplayName:   p.DisplayName,
		Rating:        p.Rating,
		Difficulty:    difficulty,
		EnqueuedAt:    s.now(),
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil && !errors.Is(err, common.ErrConflict) {
		return nil, err
	}

	paired, err := s.PairWaiting(ctx)
	if err != nil {
		logger.Warn(ctx, "pairing after enqueue failed", zap.Error(err))
	}
	for _, m := range paired {
		if m.HasParticipant(participantID) {
			waiting, _ := s.QueueCount(ctx)
			return &model.QueueStatus{Match: m, Waiting: waiting}, nil
		}
	}
	s.publishQueueChanged(ctx)
	status, err := s.queueStatus(ctx, participantID)
	if errors.Is(err, common.ErrQueueEntryGone) {
		// Paired by a concurrent attempt between enqueue and the status read.
		m, lookupErr := s.pendingQueueMatch(ctx, participantID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if m != nil {
			waiting, _ := s.QueueCount(ctx)
			return &model.QueueStatus{Match: m, Waiting: waiting}, nil
		}
	}
	return status, err
}

// pendingQueueMatch returns the participant's newest queue match that has not started,
// or nil when there is none.
func (s *MatchmakingService) pendingQueueMatch(ctx context.Context, participantID string) (*model.Match, error) {
	recent, err := s.matches.ListByParticipant(ctx, participantID, pendingMatchScan, 0)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if recent[i].Source == model.SourceQueue && recent[i].Status == model.MatchWaiting {
			return &recent[i], nil
		}
	}
	return nil, nil
}

func (s *MatchmakingService) queueStatus(ctx context.Context, participantID string) (*model.QueueStatus, error) {
	waiting, err := s.queue.ListWaiting(ctx, pairingScanLimit)
	if err != nil {
		return nil, err
	}
	status := &model.QueueStatus{Waiting: len(waiting)}
	for i := range waiting {
		if waiting[i].ParticipantID == participantID {
			status.Entry = &waiting[i]
			status.Position = i + 1
		}
	}
	if status.Entry == nil {
		return nil, common.Errorf("no longer queued: %w", common.ErrQueueEntryGone)
	}
	return status, nil
}

// LeaveQueue removes the participant's entry. NotFound means it was already paired or
// never queued.
func (s *MatchmakingService) LeaveQueue(ctx context.Context, participantID string) error {
	if err := s.queue.Remove(ctx, participantID); err != nil {
		return err
	}
	s.publishQueueChanged(ctx)
	return nil
}

func (s *MatchmakingService) QueueCount(ctx context.Context) (int, error) {
	var n int
	err := common.Retry(ctx, s.cfg.CountRetry, func() error {
		var err error
		n, err = s.queue.Count(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.QueueDepth.Set(float64(n))
	return n, nil
}

func (s *MatchmakingService) publishQueueChanged(ctx context.Context) {
	n, err := s.QueueCount(ctx)
	if err != nil {
		logger.Warn(ctx, "queue count failed", zap.Error(err))
		return
	}
	emit(ctx, s.events, model.EventQueueChanged, "", nil, model.QueueChangedPayload{Waiting: n}, s.now())
}

func compatible(a, b *model.QueueEntry, band int) bool {
	if a.Difficulty != "" && b.Difficulty != "" && a.Difficulty != b.Difficulty {
		return false
	}
	if band <= 0 {
		return true
	}
	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	return diff <= band
}

// selectPair scans entries oldest first and returns the first compatible pair: the oldest
// entry that has any partner, with its oldest partner.
func selectPair(entries []model.QueueEntry, band int) (*model.QueueEntry, *model.QueueEntry, bool) {
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			if compatible(&entries[i], &entries[j], band) {
				return &entries[i], &entries[j], true
			}
		}
	}
	return nil, nil, false
}

// PairWaiting creates matches until no compatible pair is left. Removing the two entries
// and creating the match is one transaction, so an entry lost to a concurrent pairing or
// cancel fails the attempt and the queue is scanned again.
func (s *MatchmakingService) PairWaiting(ctx context.Context) ([]*model.Match, error) {
	var created []*model.Match
	for range pairingMaxRescans {
		entries, err := s.queue.ListWaiting(ctx, pairingScanLimit)
		if err != nil {
			return created, err
		}
		a, b, ok := selectPair(entries, s.cfg.RatingBand)
		if !ok {
			break
		}
		difficulty := a.Difficulty
		if difficulty == "" {
			difficulty = b.Difficulty
		}
		problemID, err := s.problems.PickProblem(ctx, difficulty)
		if err != nil {
			return created, err
		}
		code, err := NewRoomCode(s.cfg.RoomCodeLength)
		if err != nil {
			return created, err
		}
		m := &model.Match{
			ID:        uuid.NewString(),
			RoomCode:  code,
			Source:    model.SourceQueue,
			Player1ID: a.ParticipantID,
			Player2ID: b.ParticipantID,
			ProblemID: problemID,
			Status:    model.MatchWaiting,
			CreatedAt: s.now(),
		}
		err = s.matches.CreateFromQueue(ctx, m)
		if errors.Is(err, common.ErrQueueEntryGone) || errors.Is(err, common.ErrConflict) {
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, m)
		s.matchCreated(ctx, m)
	}
	if len(created) > 0 {
		s.publishQueueChanged(ctx)
	}
	return created, nil
}

func (s *MatchmakingService) matchCreated(ctx context.Context, m *model.Match) {
	metrics.MatchesCreated.WithLabelValues(string(m.Source)).Inc()
	logger.Info(ctx, "match created",
		zap.String("match_id", m.ID), zap.String("source", string(m.Source)),
		zap.String("player1_id", m.Player1ID), zap.String("player2_id", m.Player2ID))
	emit(ctx, s.events, model.EventMatchCreated, m.ID, m.Participants(), m, s.now())
}

// CreateRoom opens a private match shell owned by the caller. The problem is fixed now so
// both participants get the same one.
func (s *MatchmakingService) CreateRoom(ctx context.Context, ownerID string, difficulty model.ProblemDifficulty) (*model.Match, error) {
	difficulty = model.ProblemDifficulty(strings.ToLower(string(difficulty)))
	if difficulty != "" && !difficulty.Valid() {
		return nil, common.Errorf("unknown difficulty %q: %w", difficulty, common.ErrValidation)
	}
	problemID, err := s.problems.PickProblem(ctx, difficulty)
	if err != nil {
		return nil, err
	}
	for range roomCodeAttempts {
		code, err := NewRoomCode(s.cfg.RoomCodeLength)
		if err != nil {
			return nil, err
		}
		m := &model.Match{
			ID:        uuid.NewString(),
			RoomCode:  code,
			Source:    model.SourceRoom,
			Player1ID: ownerID,
			ProblemID: problemID,
			Status:    model.MatchWaiting,
			CreatedAt: s.now(),
		}
		err = s.matches.CreateRoom(ctx, m)
		if errors.Is(err, common.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		logger.Info(ctx, "room created", zap.String("match_id", m.ID), zap.String("room_code", code))
		return m, nil
	}
	return nil, common.Errorf("no free room code after %d attempts: %w", roomCodeAttempts, common.ErrServiceUnavailable)
}

// JoinRoom fills a room shell. Malformed codes are rejected before the store is touched.
func (s *MatchmakingService) JoinRoom(ctx context.Context, code, participantID string) (*model.Match, error) {
	code, err := NormalizeRoomCode(code, s.cfg.RoomCodeLength)
	if err != nil {
		return nil, err
	}
	m, err := s.matches.JoinRoom(ctx, code, participantID)
	if err != nil {
		return nil, err
	}
	s.matchCreated(ctx, m)
	return m, nil
}

// CancelRoom deletes an unfilled room. Against a concurrent join, whichever update
// commits first wins; the loser sees RoomAlreadyFull or RoomNotFound.
func (s *MatchmakingService) CancelRoom(ctx context.Context, code, ownerID string) error {
	code, err := NormalizeRoomCode(code, s.cfg.RoomCodeLength)
	if err != nil {
		return err
	}
	return s.matches.CancelRoom(ctx, code, ownerID)
}
