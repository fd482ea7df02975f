package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/platform/database"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

var seededParticipants = []string{"a", "b", "owner", "guest", "third", "g1", "g2", "g3", "g4", "p1", "p2"}

// forEachBackend runs fn against the in-memory store and, when DATABASE_URL is set,
// against Postgres in a schema of its own that is dropped afterwards.
func forEachBackend(t *testing.T, fn func(t *testing.T, repos *repository.Repositories)) {
	t.Run("memory", func(t *testing.T) {
		repos := repository.NewMemoryRepositories()
		seed(t, repos)
		fn(t, repos)
	})
	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			t.Skip("DATABASE_URL not set")
		}
		repos := repository.NewPgRepositories(isolatedSchema(t, dsn))
		seed(t, repos)
		fn(t, repos)
	})
}

func isolatedSchema(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	ctx := context.Background()
	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
	})

	// pgx passes unknown settings through as run-time parameters.
	sep := " "
	if strings.Contains(dsn, "://") {
		sep = "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
	}
	db, err := sql.Open("pgx", dsn+sep+"search_path="+schema)
	if err != nil {
		t.Fatalf("open %s: %v", schema, err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

// seed creates the rows the foreign keys of the Postgres schema ask for.
func seed(t *testing.T, repos *repository.Repositories) {
	t.Helper()
	ctx := context.Background()
	for _, id := range seededParticipants {
		p := &model.Participant{ID: id, Username: id, Email: id + "@example.com", Role: model.RoleUser, Rating: 1200}
		if err := repos.Participants.Create(ctx, p); err != nil {
			t.Fatalf("create participant %s: %v", id, err)
		}
	}
	problem := &model.Problem{
		ID:            "two-sum",
		Title:         "Two Sum",
		Description:   "Return the indices of the two numbers adding up to target.",
		Difficulty:    model.DifficultyEasy,
		Comparison:    model.ComparisonUnordered,
		TimeLimitMs:   2000,
		MemoryLimitKb: 262144,
		TestCases:     []model.TestCase{{Input: json.RawMessage(`{"nums":[2,7],"target":9}`), ExpectedOutput: json.RawMessage(`[0,1]`)}},
		CreatedAt:     t0,
	}
	if err := repos.Problems.Create(ctx, problem); err != nil {
		t.Fatalf("create problem: %v", err)
	}
}

func openRoom(t *testing.T, repos *repository.Repositories, id, code, owner string) {
	t.Helper()
	m := &model.Match{ID: id, RoomCode: code, Source: model.SourceRoom, Player1ID: owner, ProblemID: "two-sum", Status: model.MatchWaiting, CreatedAt: t0}
	if err := repos.Matches.CreateRoom(context.Background(), m); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
}

func activeMatch(t *testing.T, repos *repository.Repositories, id, p1, p2 string) *model.Match {
	t.Helper()
	ctx := context.Background()
	openRoom(t, repos, id, "R"+id, p1)
	if _, err := repos.Matches.JoinRoom(ctx, "R"+id, p2); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if _, _, err := repos.Matches.MarkReady(ctx, id, p1, t0); err != nil {
		t.Fatalf("MarkReady p1: %v", err)
	}
	got, started, err := repos.Matches.MarkReady(ctx, id, p2, t0)
	if err != nil || !started {
		t.Fatalf("MarkReady p2 = %v, %v", started, err)
	}
	return got
}

func TestCreateFromQueueRemovesEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		for i, id := range []string{"a", "b"} {
			e := &model.QueueEntry{ParticipantID: id, Username: id, Rating: 1200, EnqueuedAt: t0.Add(time.Duration(i) * time.Second)}
			if err := repos.Queue.Enqueue(ctx, e); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}

		m := &model.Match{ID: "m1", RoomCode: "AAAA1111", Source: model.SourceQueue, Player1ID: "a", Player2ID: "b", ProblemID: "two-sum", Status: model.MatchWaiting, CreatedAt: t0}
		if err := repos.Matches.CreateFromQueue(ctx, m); err != nil {
			t.Fatalf("CreateFromQueue: %v", err)
		}
		if n, _ := repos.Queue.Count(ctx); n != 0 {
			t.Fatalf("queue count = %d, want 0", n)
		}

		again := &model.Match{ID: "m2", RoomCode: "BBBB2222", Source: model.SourceQueue, Player1ID: "a", Player2ID: "b", ProblemID: "two-sum", Status: model.MatchWaiting, CreatedAt: t0}
		if err := repos.Matches.CreateFromQueue(ctx, again); !errors.Is(err, common.ErrQueueEntryGone) {
			t.Fatalf("second pairing err = %v, want ErrQueueEntryGone", err)
		}
	})
}

func TestRoomJoinRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		openRoom(t, repos, "m1", "ABCD1234", "owner")

		if _, err := repos.Matches.JoinRoom(ctx, "ZZZZ9999", "guest"); !errors.Is(err, common.ErrRoomNotFound) {
			t.Fatalf("unknown code err = %v", err)
		}
		if _, err := repos.Matches.JoinRoom(ctx, "ABCD1234", "owner"); !errors.Is(err, common.ErrSelfJoinRejected) {
			t.Fatalf("self join err = %v", err)
		}
		m, err := repos.Matches.JoinRoom(ctx, "ABCD1234", "guest")
		if err != nil || m.Player2ID != "guest" {
			t.Fatalf("join = %+v, %v", m, err)
		}
		if _, err := repos.Matches.JoinRoom(ctx, "ABCD1234", "third"); !errors.Is(err, common.ErrRoomAlreadyFull) {
			t.Fatalf("full room err = %v", err)
		}
		if err := repos.Matches.CancelRoom(ctx, "ABCD1234", "owner"); !errors.Is(err, common.ErrRoomAlreadyFull) {
			t.Fatalf("cancel filled room err = %v", err)
		}
	})
}

func TestConcurrentRoomJoinHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		openRoom(t, repos, "m1", "ABCD1234", "owner")

		var wg sync.WaitGroup
		var mu sync.Mutex
		joined, full := 0, 0
		for _, id := range []string{"g1", "g2", "g3", "g4"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := repos.Matches.JoinRoom(ctx, "ABCD1234", id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case errors.Is(err, common.ErrRoomAlreadyFull):
					full++
				default:
					t.Errorf("unexpected join error: %v", err)
				}
			}(id)
		}
		wg.Wait()
		if joined != 1 || full != 3 {
			t.Fatalf("joined=%d full=%d, want 1 and 3", joined, full)
		}
	})
}

func TestSubmissionSeqAndResolveCAS(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		m := activeMatch(t, repos, "m1", "p1", "p2")
		if m.Status != model.MatchActive || m.StartedAt == nil {
			t.Fatalf("match not active: %+v", m)
		}

		for want := 1; want <= 3; want++ {
			s := &model.Submission{ID: "s" + string(rune('0'+want)), MatchID: "m1", ParticipantID: "p1", Language: "python", Status: model.SubmissionJudging, SubmittedAt: t0}
			if err := repos.Submissions.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if s.Seq != want {
				t.Fatalf("seq = %d, want %d", s.Seq, want)
			}
		}
		other := &model.Submission{ID: "o1", MatchID: "m1", ParticipantID: "p2", Language: "python", Status: model.SubmissionJudging, SubmittedAt: t0}
		if err := repos.Submissions.Create(ctx, other); err != nil || other.Seq != 1 {
			t.Fatalf("p2 seq = %d, %v; counters are per participant", other.Seq, err)
		}

		winner := "p1"
		res := model.Resolution{WinnerID: &winner, Reason: model.ResolutionSolved, ResolvedAt: t0.Add(time.Minute)}
		if _, err := repos.Matches.Resolve(ctx, "m1", res); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if _, err := repos.Matches.Resolve(ctx, "m1", res); !errors.Is(err, common.ErrStaleMatchAction) {
			t.Fatalf("second Resolve err = %v, want ErrStaleMatchAction", err)
		}

		late := &model.Submission{ID: "late", MatchID: "m1", ParticipantID: "p2", SubmittedAt: t0}
		if err := repos.Submissions.Create(ctx, late); !errors.Is(err, common.ErrStaleMatchAction) {
			t.Fatalf("submit after resolve err = %v, want ErrStaleMatchAction", err)
		}
		outsider := &model.Submission{ID: "x", MatchID: "m1", ParticipantID: "p9", SubmittedAt: t0}
		if err := repos.Submissions.Create(ctx, outsider); !errors.Is(err, common.ErrForbidden) {
			t.Fatalf("outsider err = %v, want ErrForbidden", err)
		}
	})
}

func TestResolveBeforeStartIsRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		openRoom(t, repos, "m1", "ABCD1234", "owner")
		winner := "owner"
		res := model.Resolution{WinnerID: &winner, Reason: model.ResolutionForfeit, ResolvedAt: t0}
		if _, err := repos.Matches.Resolve(context.Background(), "m1", res); !errors.Is(err, common.ErrMatchNotActive) {
			t.Fatalf("Resolve waiting match err = %v, want ErrMatchNotActive", err)
		}
		if _, err := repos.Matches.Resolve(context.Background(), "nope", res); !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("Resolve unknown match err = %v, want ErrNotFound", err)
		}
	})
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		activeMatch(t, repos, "m1", "p1", "p2")

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := map[string]int{}
		stale := 0
		for i := range 8 {
			winner := "p1"
			if i%2 == 1 {
				winner = "p2"
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := model.Resolution{WinnerID: &winner, Reason: model.ResolutionSolved, ResolvedAt: t0.Add(time.Minute)}
				m, err := repos.Matches.Resolve(ctx, "m1", res)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners[*m.WinnerID]++
				case errors.Is(err, common.ErrStaleMatchAction):
					stale++
				default:
					t.Errorf("unexpected resolve error: %v", err)
				}
			}()
		}
		wg.Wait()
		if len(winners) != 1 || stale != 7 {
			t.Fatalf("winners=%v stale=%d, want one winner and 7 stale", winners, stale)
		}

		stored, err := repos.Matches.FindByID(ctx, "m1")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		for id := range winners {
			if stored.WinnerID == nil || *stored.WinnerID != id {
				t.Fatalf("stored winner = %v, want %s", stored.WinnerID, id)
			}
		}
	})
}

func TestApplyResultIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		activeMatch(t, repos, "m1", "p1", "p2")

		rate := func(w, l int) (int, int) { return 16, -16 }
		if _, err := repos.Stats.ApplyResult(ctx, "m1", "p1", "p2", rate); !errors.Is(err, common.ErrMatchNotResolved) {
			t.Fatalf("apply before resolve err = %v", err)
		}

		winner := "p1"
		if _, err := repos.Matches.Resolve(ctx, "m1", model.Resolution{WinnerID: &winner, Reason: model.ResolutionSolved, ResolvedAt: t0}); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if _, err := repos.Stats.ApplyResult(ctx, "m1", "p2", "p1", rate); !errors.Is(err, common.ErrValidation) {
			t.Fatalf("apply with swapped roles err = %v, want ErrValidation", err)
		}
		pending, _ := repos.Stats.ListPending(ctx, 10)
		if len(pending) != 1 {
			t.Fatalf("pending = %d, want 1", len(pending))
		}

		first, err := repos.Stats.ApplyResult(ctx, "m1", "p1", "p2", rate)
		if err != nil || !first.Applied {
			t.Fatalf("first apply = %+v, %v", first, err)
		}
		second, err := repos.Stats.ApplyResult(ctx, "m1", "p1", "p2", rate)
		if err != nil || second.Applied {
			t.Fatalf("second apply = %+v, %v", second, err)
		}

		w, _ := repos.Participants.FindByID(ctx, "p1")
		l, _ := repos.Participants.FindByID(ctx, "p2")
		if w.Wins != 1 || w.TotalMatches != 1 || w.Rating != 1216 {
			t.Fatalf("winner = %+v", w)
		}
		if l.Losses != 1 || l.TotalMatches != 1 || l.Rating != 1184 {
			t.Fatalf("loser = %+v", l)
		}
		if pending, _ := repos.Stats.ListPending(ctx, 10); len(pending) != 0 {
			t.Fatalf("pending after apply = %d", len(pending))
		}
	})
}

func TestConcurrentApplyResultCountsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		activeMatch(t, repos, "m1", "p1", "p2")
		winner := "p1"
		if _, err := repos.Matches.Resolve(ctx, "m1", model.Resolution{WinnerID: &winner, Reason: model.ResolutionSolved, ResolvedAt: t0}); err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		rate := func(w, l int) (int, int) { return 16, -16 }
		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for range 6 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := repos.Stats.ApplyResult(ctx, "m1", "p1", "p2", rate)
				if err != nil {
					t.Errorf("ApplyResult: %v", err)
					return
				}
				if out.Applied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if applied != 1 {
			t.Fatalf("applied %d times, want once", applied)
		}
		w, _ := repos.Participants.FindByID(ctx, "p1")
		if w.Wins != 1 || w.Rating != 1216 {
			t.Fatalf("winner = %+v", w)
		}
	})
}

func TestListOverdue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repos *repository.Repositories) {
		ctx := context.Background()
		activeMatch(t, repos, "m1", "p1", "p2")

		if got, _ := repos.Matches.ListOverdue(ctx, t0.Add(-time.Second), 10); len(got) != 0 {
			t.Fatalf("overdue before start = %d", len(got))
		}
		if got, _ := repos.Matches.ListOverdue(ctx, t0, 10); len(got) != 1 {
			t.Fatalf("overdue at boundary = %d, want 1", len(got))
		}
	})
}
