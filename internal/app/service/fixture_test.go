package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/eventbus"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// scriptedJudge passes any source containing "PASS". When barrier is set every call
// waits on it, so tests can line up concurrent submissions.
type scriptedJudge struct {
	barrier *sync.WaitGroup
}

func (j *scriptedJudge) Supports(language string) bool { return language == "python" || language == "bash" }

func (j *scriptedJudge) Languages() []model.Language {
	return []model.Language{{Slug: "bash", Name: "Bash"}, {Slug: "python", Name: "Python 3"}}
}

func (j *scriptedJudge) Evaluate(_ context.Context, req judge.Request) (*model.Verdict, error) {
	if j.barrier != nil {
		j.barrier.Done()
		j.barrier.Wait()
	}
	passed := strings.Contains(req.Source, "PASS")
	v := &model.Verdict{SubmissionID: req.SubmissionID}
	for i := range req.TestCases {
		c := model.CaseOutcome{CaseIndex: i, Passed: passed, ActualOutput: "[0,1]"}
		if !passed {
			c.Error, c.ActualOutput = model.CaseOutputMismatch, "[]"
		}
		v.Cases = append(v.Cases, c)
	}
	v.Settle()
	return v, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	repos       *repository.Repositories
	problems    *service.ProblemService
	ledger      *service.StatsLedger
	matches     *service.MatchService
	matchmaking *service.MatchmakingService
	hub         *eventbus.Hub
	judge       *scriptedJudge
	clock       *clock
}

var noRetry = common.RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond}

func twoSumProblem() service.CreateProblemRequest {
	return service.CreateProblemRequest{
		ID:         "two-sum",
		Title:      "Two Sum",
		Difficulty: model.DifficultyEasy,
		Comparison: model.ComparisonUnordered,
		TestCases: []model.TestCase{
			{Input: json.RawMessage(`{"nums":[2,7,11,15],"target":9}`), ExpectedOutput: json.RawMessage(`[0,1]`)},
		},
	}
}

func newFixture(t *testing.T, ev service.Evaluator) *fixture {
	t.Helper()
	f := &fixture{
		repos: repository.NewMemoryRepositories(),
		hub:   eventbus.NewHub(16),
		clock: &clock{now: t0},
	}
	if ev == nil {
		f.judge = &scriptedJudge{}
		ev = f.judge
	}
	f.problems = service.NewProblemService(f.repos.Problems, ev.Languages, service.ProblemLimits{TimeLimitMs: 2000, MemoryLimitKb: 262144})
	if _, err := f.problems.CreateProblem(context.Background(), twoSumProblem()); err != nil {
		t.Fatalf("seed problem: %v", err)
	}
	f.ledger = service.NewStatsLedger(f.repos.Stats, service.EloRating(32), noRetry)
	f.matches = service.NewMatchService(f.repos, f.problems, ev, f.ledger, f.hub, service.MatchConfig{
		Duration:       1800 * time.Second,
		MaxSourceBytes: 1 << 16,
		Persist:        noRetry,
	})
	f.matches.SetClock(f.clock.Now)
	f.matchmaking = service.NewMatchmakingService(f.repos, f.problems, f.hub, service.MatchmakingConfig{
		RoomCodeLength: 8,
		CountRetry:     noRetry,
	})
	f.matchmaking.SetClock(f.clock.Now)
	return f
}

func (f *fixture) seedParticipants(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		p := &model.Participant{ID: id, Username: id, Email: id + "@example.com", DisplayName: strings.ToUpper(id), Role: model.RoleUser, Rating: 1200}
		if err := f.repos.Participants.Create(context.Background(), p); err != nil {
			t.Fatalf("create participant %s: %v", id, err)
		}
	}
}

func (f *fixture) participant(t *testing.T, id string) *model.Participant {
	t.Helper()
	p, err := f.repos.Participants.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID %s: %v", id, err)
	}
	return p
}

// startRoomMatch creates a room for a, lets b join and readies both.
func (f *fixture) startRoomMatch(t *testing.T, a, b string) *model.Match {
	t.Helper()
	ctx := context.Background()
	room, err := f.matchmaking.CreateRoom(ctx, a, "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := f.matchmaking.JoinRoom(ctx, room.RoomCode, b); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, err := f.matches.Ready(ctx, room.ID, a); err != nil {
		t.Fatalf("Ready %s: %v", a, err)
	}
	v, err := f.matches.Ready(ctx, room.ID, b)
	if err != nil {
		t.Fatalf("Ready %s: %v", b, err)
	}
	if v.Match.Status != model.MatchActive {
		t.Fatalf("status = %s, want active", v.Match.Status)
	}
	return v.Match
}
