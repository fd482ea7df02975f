package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
)

// memoryState backs every in-memory repository. One mutex serializes all of them,
// which gives the composite operations the same atomicity as a database transaction.
type memoryState struct {
	mu           sync.Mutex
	participants map[string]*model.Participant
	problems     map[string]*model.Problem
	queue        map[string]*model.QueueEntry
	matches      map[string]*model.Match
	rooms        map[string]string // room code -> match id
	submissions  map[string]*model.Submission
}

// NewMemoryRepositories returns repositories that keep everything in process memory.
// They are used by tests and by the "memory" store driver.
func NewMemoryRepositories() *Repositories {
	st := &memoryState{
		participants: make(map[string]*model.Participant),
		problems:     make(map[string]*model.Problem),
		queue:        make(map[string]*model.QueueEntry),
		matches:      make(map[string]*model.Match),
		rooms:        make(map[string]string),
		submissions:  make(map[string]*model.Submission),
	}
	return &Repositories{
		Participants: &memParticipants{st},
		Problems:     &memProblems{st},
		Queue:        &memQueue{st},
		Matches:      &memMatches{st},
		Submissions:  &memSubmissions{st},
		Stats:        &memStats{st},
	}
}

func copyMatch(m *model.Match) *model.Match {
	c := *m
	if m.WinnerID != nil {
		w := *m.WinnerID
		c.WinnerID = &w
	}
	if m.WinnerRatingDelta != nil {
		d := *m.WinnerRatingDelta
		c.WinnerRatingDelta = &d
	}
	if m.LoserRatingDelta != nil {
		d := *m.LoserRatingDelta
		c.LoserRatingDelta = &d
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func copySubmission(s *model.Submission) *model.Submission {
	c := *s
	if s.Verdict != nil {
		v := *s.Verdict
		v.Cases = append([]model.CaseOutcome(nil), s.Verdict.Cases...)
		c.Verdict = &v
	}
	if s.JudgedAt != nil {
		t := *s.JudgedAt
		c.JudgedAt = &t
	}
	return &c
}

type memParticipants struct{ st *memoryState }

func (r *memParticipants) Create(_ context.Context, p *model.Participant) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, other := range r.st.participants {
		if other.ID == p.ID || strings.EqualFold(other.Username, p.Username) || strings.EqualFold(other.Email, p.Email) {
			return fmt.Errorf("participant with given username or email already exists: %w", common.ErrConflict)
		}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	r.st.participants[p.ID] = &c
	return nil
}

func (r *memParticipants) find(match func(*model.Participant) bool) (*model.Participant, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, p := range r.st.participants {
		if match(p) {
			c := *p
			return &c, nil
		}
	}
	return nil, notFound("memParticipants", "participant")
}

func (r *memParticipants) FindByEmail(_ context.Context, email string) (*model.Participant, error) {
	return r.find(func(p *model.Participant) bool { return p.Email == email })
}

func (r *memParticipants) FindByUsername(_ context.Context, username string) (*model.Participant, error) {
	return r.find(func(p *model.Participant) bool { return p.Username == username })
}

func (r *memParticipants) FindByID(_ context.Context, id string) (*model.Participant, error) {
	return r.find(func(p *model.Participant) bool { return p.ID == id })
}

func (r *memParticipants) Leaderboard(_ context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	r.st.mu.Lock()
	all := make([]model.Participant, 0, len(r.st.participants))
	for _, p := range r.st.participants {
		all = append(all, *p)
	}
	r.st.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Rating != all[j].Rating {
			return all[i].Rating > all[j].Rating
		}
		if all[i].Wins != all[j].Wins {
			return all[i].Wins > all[j].Wins
		}
		return all[i].ID < all[j].ID
	})
	var out []model.LeaderboardEntry
	for i := offset; i < len(all) && len(out) < limit; i++ {
		p := all[i]
		out = append(out, model.LeaderboardEntry{
			Rank: i + 1, ParticipantID: p.ID, Username: p.Username, DisplayName: p.DisplayName,
			Rating: p.Rating, Wins: p.Wins, Losses: p.Losses, TotalMatches: p.TotalMatches,
		})
	}
	return out, nil
}

type memProblems struct{ st *memoryState }

func (r *memProblems) Create(_ context.Context, p *model.Problem) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.problems[p.ID]; ok {
		return fmt.Errorf("problem %q already exists: %w", p.ID, common.ErrConflict)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	c := *p
	c.TestCases = append([]model.TestCase(nil), p.TestCases...)
	r.st.problems[p.ID] = &c
	return nil
}

func (r *memProblems) FindByID(_ context.Context, id string) (*model.Problem, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.problems[id]
	if !ok {
		return nil, notFound("memProblems.FindByID", "problem "+id)
	}
	c := *p
	c.TestCases = append([]model.TestCase(nil), p.TestCases...)
	return &c, nil
}

func (r *memProblems) sorted(difficulty model.ProblemDifficulty) []model.Problem {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []model.Problem
	for _, p := range r.st.problems {
		if difficulty == "" || p.Difficulty == difficulty {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memProblems) List(_ context.Context, difficulty model.ProblemDifficulty, limit, offset int) ([]model.Problem, int, error) {
	all := r.sorted(difficulty)
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (r *memProblems) ListIDs(_ context.Context, difficulty model.ProblemDifficulty) ([]string, error) {
	all := r.sorted(difficulty)
	ids := make([]string, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

type memQueue struct{ st *memoryState }

func (r *memQueue) Enqueue(_ context.Context, e *model.QueueEntry) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.queue[e.ParticipantID]; ok {
		return fmt.Errorf("participant already queued: %w", common.ErrConflict)
	}
	c := *e
	r.st.queue[e.ParticipantID] = &c
	return nil
}

func (r *memQueue) Remove(_ context.Context, participantID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.queue[participantID]; !ok {
		return notFound("memQueue.Remove", "queue entry")
	}
	delete(r.st.queue, participantID)
	return nil
}

func (r *memQueue) Find(_ context.Context, participantID string) (*model.QueueEntry, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	e, ok := r.st.queue[participantID]
	if !ok {
		return nil, notFound("memQueue.Find", "queue entry")
	}
	c := *e
	return &c, nil
}

func (r *memQueue) ListWaiting(_ context.Context, limit int) ([]model.QueueEntry, error) {
	r.st.mu.Lock()
	out := make([]model.QueueEntry, 0, len(r.st.queue))
	for _, e := range r.st.queue {
		out = append(out, *e)
	}
	r.st.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memQueue) Count(context.Context) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return len(r.st.queue), nil
}

type memMatches struct{ st *memoryState }

// insertMatchLocked stores m; the caller holds the lock.
func (st *memoryState) insertMatchLocked(m *model.Match) error {
	if _, ok := st.rooms[m.RoomCode]; ok {
		return fmt.Errorf("room code %s taken: %w", m.RoomCode, common.ErrConflict)
	}
	st.matches[m.ID] = copyMatch(m)
	st.rooms[m.RoomCode] = m.ID
	return nil
}

func (r *memMatches) CreateFromQueue(_ context.Context, m *model.Match) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	_, ok1 := r.st.queue[m.Player1ID]
	_, ok2 := r.st.queue[m.Player2ID]
	if !ok1 || !ok2 || m.Player1ID == m.Player2ID {
		return fmt.Errorf("memMatches.CreateFromQueue: %w", common.ErrQueueEntryGone)
	}
	if err := r.st.insertMatchLocked(m); err != nil {
		return err
	}
	delete(r.st.queue, m.Player1ID)
	delete(r.st.queue, m.Player2ID)
	return nil
}

func (r *memMatches) CreateRoom(_ context.Context, m *model.Match) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.insertMatchLocked(m)
}

func (r *memMatches) roomLocked(code string) (*model.Match, error) {
	id, ok := r.st.rooms[code]
	if !ok {
		return nil, common.ErrRoomNotFound
	}
	m := r.st.matches[id]
	if m.Source != model.SourceRoom {
		return nil, common.ErrRoomNotFound
	}
	return m, nil
}

func (r *memMatches) JoinRoom(_ context.Context, code, joinerID string) (*model.Match, error) {
	const op = "memMatches.JoinRoom"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, err := r.roomLocked(code)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case m.Player1ID == joinerID:
		return nil, fmt.Errorf("%s: %w", op, common.ErrSelfJoinRejected)
	case m.Player2ID != "" || m.Status != model.MatchWaiting:
		return nil, fmt.Errorf("%s: %w", op, common.ErrRoomAlreadyFull)
	}
	m.Player2ID = joinerID
	return copyMatch(m), nil
}

func (r *memMatches) CancelRoom(_ context.Context, code, ownerID string) error {
	const op = "memMatches.CancelRoom"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, err := r.roomLocked(code)
	switch {
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	case m.Player1ID != ownerID:
		return fmt.Errorf("%s: only the owner can cancel a room: %w", op, common.ErrForbidden)
	case m.Player2ID != "" || m.Status != model.MatchWaiting:
		return fmt.Errorf("%s: %w", op, common.ErrRoomAlreadyFull)
	}
	delete(r.st.rooms, code)
	delete(r.st.matches, m.ID)
	return nil
}

func (r *memMatches) FindByID(_ context.Context, id string) (*model.Match, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.matches[id]
	if !ok {
		return nil, notFound("memMatches.FindByID", "match")
	}
	return copyMatch(m), nil
}

func (r *memMatches) FindByRoomCode(_ context.Context, code string) (*model.Match, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	id, ok := r.st.rooms[code]
	if !ok {
		return nil, fmt.Errorf("memMatches.FindByRoomCode: %w", common.ErrRoomNotFound)
	}
	return copyMatch(r.st.matches[id]), nil
}

func (r *memMatches) MarkReady(_ context.Context, matchID, participantID string, now time.Time) (*model.Match, bool, error) {
	const op = "memMatches.MarkReady"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.matches[matchID]
	if !ok {
		return nil, false, notFound(op, "match")
	}
	if err := checkReady(m, participantID); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if m.Status == model.MatchActive {
		return copyMatch(m), false, nil
	}
	started := applyReady(m, participantID, now)
	return copyMatch(m), started, nil
}

func (r *memMatches) Resolve(_ context.Context, matchID string, res model.Resolution) (*model.Match, error) {
	const op = "memMatches.Resolve"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.matches[matchID]
	if !ok {
		return nil, notFound(op, "match")
	}
	if m.Status != model.MatchActive {
		return nil, fmt.Errorf("%s: %w", op, resolveConflict(m.Status))
	}
	m.Status = model.MatchResolved
	if res.WinnerID != nil {
		w := *res.WinnerID
		m.WinnerID = &w
	}
	m.Resolution = res.Reason
	at := res.ResolvedAt
	m.ResolvedAt = &at
	return copyMatch(m), nil
}

func (r *memMatches) collect(keep func(*model.Match) bool, less func(a, b *model.Match) bool) []model.Match {
	r.st.mu.Lock()
	var out []model.Match
	for _, m := range r.st.matches {
		if keep(m) {
			out = append(out, *copyMatch(m))
		}
	}
	r.st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

func page(ms []model.Match, limit, offset int) []model.Match {
	if offset >= len(ms) {
		return nil
	}
	return ms[offset:min(offset+limit, len(ms))]
}

func (r *memMatches) ListOverdue(_ context.Context, startedBefore time.Time, limit int) ([]model.Match, error) {
	out := r.collect(
		func(m *model.Match) bool {
			return m.Status == model.MatchActive && m.StartedAt != nil && !m.StartedAt.After(startedBefore)
		},
		func(a, b *model.Match) bool {
			if !a.StartedAt.Equal(*b.StartedAt) {
				return a.StartedAt.Before(*b.StartedAt)
			}
			return a.ID < b.ID
		})
	return page(out, limit, 0), nil
}

func (r *memMatches) ListByParticipant(_ context.Context, participantID string, limit, offset int) ([]model.Match, error) {
	out := r.collect(
		func(m *model.Match) bool { return m.HasParticipant(participantID) },
		func(a, b *model.Match) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID < b.ID
		})
	return page(out, limit, offset), nil
}

type memSubmissions struct{ st *memoryState }

func (r *memSubmissions) Create(_ context.Context, s *model.Submission) error {
	const op = "memSubmissions.Create"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.matches[s.MatchID]
	if !ok {
		return notFound(op, "match")
	}
	if m.Status != model.MatchActive || !m.HasParticipant(s.ParticipantID) {
		return fmt.Errorf("%s: %w", op, submitConflict(m, s.ParticipantID))
	}
	if s.ParticipantID == m.Player1ID {
		m.Player1Submissions++
		s.Seq = m.Player1Submissions
	} else {
		m.Player2Submissions++
		s.Seq = m.Player2Submissions
	}
	r.st.submissions[s.ID] = copySubmission(s)
	return nil
}

func (r *memSubmissions) SaveVerdict(_ context.Context, id string, status model.SubmissionStatus, v *model.Verdict, late bool, judgedAt time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.submissions[id]
	if !ok {
		return notFound("memSubmissions.SaveVerdict", "submission")
	}
	s.Status = status
	s.Late = late
	s.JudgedAt = &judgedAt
	s.Verdict = nil
	if v != nil {
		s.Verdict = copySubmission(&model.Submission{Verdict: v}).Verdict
	}
	return nil
}

func (r *memSubmissions) FindByID(_ context.Context, id string) (*model.Submission, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	s, ok := r.st.submissions[id]
	if !ok {
		return nil, notFound("memSubmissions.FindByID", "submission")
	}
	return copySubmission(s), nil
}

func (r *memSubmissions) ListByMatch(_ context.Context, matchID, participantID string) ([]model.Submission, error) {
	r.st.mu.Lock()
	var out []model.Submission
	for _, s := range r.st.submissions {
		if s.MatchID == matchID && (participantID == "" || s.ParticipantID == participantID) {
			out = append(out, *copySubmission(s))
		}
	}
	r.st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

type memStats struct{ st *memoryState }

func (r *memStats) ApplyResult(_ context.Context, matchID, winnerID, loserID string, rate RatingFunc) (*model.StatsOutcome, error) {
	const op = "memStats.ApplyResult"
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.matches[matchID]
	if !ok {
		return nil, notFound(op, "match")
	}
	if err := checkResult(m, winnerID, loserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	w, wok := r.st.participants[winnerID]
	l, lok := r.st.participants[loserID]
	if !wok || !lok {
		return nil, notFound(op, "participant")
	}

	out := &model.StatsOutcome{MatchID: matchID, WinnerID: winnerID, LoserID: loserID}
	if m.StatsApplied {
		out.WinnerRating, out.LoserRating = w.Rating, l.Rating
		return out, nil
	}
	wDelta, lDelta := rate(w.Rating, l.Rating)
	out.WinnerRating, out.WinnerDelta = floorRating(w.Rating, wDelta)
	out.LoserRating, out.LoserDelta = floorRating(l.Rating, lDelta)

	now := time.Now().UTC()
	w.Rating, w.Wins, w.TotalMatches, w.UpdatedAt = out.WinnerRating, w.Wins+1, w.TotalMatches+1, now
	l.Rating, l.Losses, l.TotalMatches, l.UpdatedAt = out.LoserRating, l.Losses+1, l.TotalMatches+1, now
	m.StatsApplied = true
	wd, ld := out.WinnerDelta, out.LoserDelta
	m.WinnerRatingDelta, m.LoserRatingDelta = &wd, &ld
	out.Applied = true
	return out, nil
}

func (r *memStats) ListPending(_ context.Context, limit int) ([]model.Match, error) {
	out := (&memMatches{r.st}).collect(
		func(m *model.Match) bool {
			return m.Status == model.MatchResolved && m.WinnerID != nil && !m.StatsApplied
		},
		func(a, b *model.Match) bool {
			if !a.ResolvedAt.Equal(*b.ResolvedAt) {
				return a.ResolvedAt.Before(*b.ResolvedAt)
			}
			return a.ID < b.ID
		})
	return page(out, limit, 0), nil
}
