package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duel_arena/internal/api"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/config"
	"duel_arena/internal/platform/eventbus"

	"github.com/gorilla/websocket"
)

// passJudge accepts any source containing "PASS".
type passJudge struct{}

func (passJudge) Supports(language string) bool { return language == "bash" }

func (passJudge) Languages() []model.Language {
	return []model.Language{{Slug: "bash", Name: "Bash"}}
}

func (passJudge) Evaluate(_ context.Context, req judge.Request) (*model.Verdict, error) {
	v := &model.Verdict{SubmissionID: req.SubmissionID}
	for i := range req.TestCases {
		v.Cases = append(v.Cases, model.CaseOutcome{CaseIndex: i, Passed: strings.Contains(req.Source, "PASS")})
	}
	v.Settle()
	return v, nil
}

type testServer struct {
	*httptest.Server
	repos *repository.Repositories
	hub   *eventbus.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	config.AppConfig = &config.Config{JWTKey: []byte("router-test"), JWTExp: time.Hour}
	security.InitJWT()

	repos := repository.NewMemoryRepositories()
	hub := eventbus.NewHub(16)
	ev := passJudge{}
	retry := common.RetryPolicy{InitialInterval: time.Millisecond}

	problems := service.NewProblemService(repos.Problems, ev.Languages, service.ProblemLimits{TimeLimitMs: 2000, MemoryLimitKb: 262144})
	if _, err := problems.CreateProblem(context.Background(), service.CreateProblemRequest{
		ID: "echo", Title: "Echo", Difficulty: model.DifficultyEasy,
		TestCases: []model.TestCase{{Input: json.RawMessage(`1`), ExpectedOutput: json.RawMessage(`1`)}},
	}); err != nil {
		t.Fatalf("seed problem: %v", err)
	}
	ledger := service.NewStatsLedger(repos.Stats, service.EloRating(32), retry)

	router := api.NewRouter(api.Services{
		Auth:     service.NewAuthService(repos.Participants, 1200),
		Problems: problems,
		Matchmaking: service.NewMatchmakingService(repos, problems, hub, service.MatchmakingConfig{
			RatingBand: 400, RoomCodeLength: 8, CountRetry: retry,
		}),
		Matches: service.NewMatchService(repos, problems, ev, ledger, hub, service.MatchConfig{
			Duration: 30 * time.Minute, MaxSourceBytes: 1 << 16, Persist: retry,
		}),
		Profiles: service.NewProfileService(repos),
		Hub:      hub,
	}, []string{"*"})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, repos: repos, hub: hub}
}

// call sends body as JSON with token and decodes the response into out when given.
func (s *testServer) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) signup(t *testing.T, username string) (string, string) {
	t.Helper()
	var resp service.AuthResponse
	code := s.call(t, http.MethodPost, "/api/v1/auth/signup", "", service.SignupRequest{
		Username: username, Email: username + "@example.com", Password: "long enough",
	}, &resp)
	if code != http.StatusCreated {
		t.Fatalf("signup %s = %d", username, code)
	}
	return resp.Participant.ID, resp.Token
}

func TestRoomDuelOverHTTP(t *testing.T) {
	s := newTestServer(t)
	aliceID, alice := s.signup(t, "alice")
	_, bob := s.signup(t, "bob")

	var room model.Match
	if code := s.call(t, http.MethodPost, "/api/v1/rooms", alice, nil, &room); code != http.StatusCreated {
		t.Fatalf("create room = %d", code)
	}
	var joined model.Match
	if code := s.call(t, http.MethodPost, "/api/v1/rooms/"+strings.ToLower(room.RoomCode)+"/join", bob, nil, &joined); code != http.StatusOK {
		t.Fatalf("join room = %d", code)
	}

	var view model.MatchView
	s.call(t, http.MethodGet, "/api/v1/matches/"+room.ID, alice, nil, &view)
	if view.Problem != nil || view.Match.Status != model.MatchWaiting {
		t.Fatalf("problem visible before start: %+v", view)
	}
	for _, token := range []string{alice, bob} {
		if code := s.call(t, http.MethodPost, "/api/v1/matches/"+room.ID+"/ready", token, nil, &view); code != http.StatusOK {
			t.Fatalf("ready = %d", code)
		}
	}
	if view.Match.Status != model.MatchActive || view.Problem == nil {
		t.Fatalf("match not started: %+v", view.Match)
	}

	var result service.SubmitResult
	code := s.call(t, http.MethodPost, "/api/v1/matches/"+room.ID+"/submissions", alice,
		service.SubmitRequest{Language: "bash", Source: "echo PASS"}, &result)
	if code != http.StatusOK || !result.Won {
		t.Fatalf("submit = %d, %+v", code, result)
	}

	var discarded map[string]string
	code = s.call(t, http.MethodPost, "/api/v1/matches/"+room.ID+"/submissions", bob,
		service.SubmitRequest{Language: "bash", Source: "echo PASS"}, &discarded)
	if code != http.StatusAccepted || discarded["status"] != "discarded" || discarded["code"] != "StaleMatchAction" {
		t.Fatalf("late submit = %d, %v", code, discarded)
	}

	var board []model.LeaderboardEntry
	s.call(t, http.MethodGet, "/api/v1/leaderboard", "", nil, &board)
	if len(board) != 2 || board[0].ParticipantID != aliceID || board[0].Wins != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}

	var me model.Profile
	s.call(t, http.MethodGet, "/api/v1/profiles/me", alice, nil, &me)
	if me.Email != "alice@example.com" || me.Wins != 1 || me.WinRate != 1 {
		t.Fatalf("own profile = %+v", me)
	}
	var public model.Profile
	s.call(t, http.MethodGet, "/api/v1/profiles/"+aliceID, "", nil, &public)
	if public.Email != "" {
		t.Fatal("public profile leaks the email")
	}
	var history []model.Match
	s.call(t, http.MethodGet, "/api/v1/profiles/me/matches", alice, nil, &history)
	if len(history) != 1 || history[0].ID != room.ID {
		t.Fatalf("history = %+v", history)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.signup(t, "alice")
	_, bob := s.signup(t, "bob")

	var room model.Match
	s.call(t, http.MethodPost, "/api/v1/rooms", alice, nil, &room)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"no token", http.MethodPost, "/api/v1/rooms", "", http.StatusUnauthorized, "NotAuthenticated"},
		{"bad token", http.MethodPost, "/api/v1/rooms", "not-a-jwt", http.StatusUnauthorized, "NotAuthenticated"},
		{"malformed room code", http.MethodPost, "/api/v1/rooms/abc/join", bob, http.StatusBadRequest, "InvalidRoomCode"},
		{"unknown room", http.MethodPost, "/api/v1/rooms/ZZZZ9999/join", bob, http.StatusNotFound, "RoomNotFound"},
		{"own room", http.MethodPost, "/api/v1/rooms/" + room.RoomCode + "/join", alice, http.StatusConflict, "SelfJoinRejected"},
		{"stranger cancels", http.MethodDelete, "/api/v1/rooms/" + room.RoomCode, bob, http.StatusForbidden, "Forbidden"},
		{"forfeit waiting match", http.MethodPost, "/api/v1/matches/" + room.ID + "/forfeit", alice, http.StatusConflict, "MatchNotActive"},
		{"unknown match", http.MethodGet, "/api/v1/matches/nope", alice, http.StatusNotFound, "NotFound"},
		{"leave without queueing", http.MethodDelete, "/api/v1/queue", alice, http.StatusNotFound, "NotFound"},
		{"unknown problem", http.MethodGet, "/api/v1/problems/nope", "", http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp common.ErrorResponse
			if code := s.call(t, tt.method, tt.path, tt.token, nil, &resp); code != tt.wantStatus || resp.Code != tt.wantCode {
				t.Fatalf("got %d %q (%s), want %d %q", code, resp.Code, resp.Error, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestProblemRoutes(t *testing.T) {
	s := newTestServer(t)
	_, user := s.signup(t, "alice")
	admin, err := security.GenerateToken("admin-1", model.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	req := service.CreateProblemRequest{
		Title: "Add Two", Difficulty: model.DifficultyMedium,
		TestCases: []model.TestCase{
			{Input: json.RawMessage(`[1,2]`), ExpectedOutput: json.RawMessage(`3`)},
			{Input: json.RawMessage(`[2,2]`), ExpectedOutput: json.RawMessage(`4`), Hidden: true},
		},
	}

	if code := s.call(t, http.MethodPost, "/api/v1/problems", user, req, nil); code != http.StatusForbidden {
		t.Fatalf("user create = %d, want 403", code)
	}
	var created model.Problem
	if code := s.call(t, http.MethodPost, "/api/v1/problems", admin, req, &created); code != http.StatusCreated || created.ID != "add-two" {
		t.Fatalf("admin create = %d, %+v", code, created)
	}

	var public model.Problem
	s.call(t, http.MethodGet, "/api/v1/problems/add-two", "", nil, &public)
	if len(public.TestCases) != 1 {
		t.Fatalf("anonymous view has %d cases, want hidden ones stripped", len(public.TestCases))
	}
	var full model.Problem
	s.call(t, http.MethodGet, "/api/v1/problems/add-two", admin, nil, &full)
	if len(full.TestCases) != 2 {
		t.Fatalf("admin view has %d cases", len(full.TestCases))
	}

	var page struct {
		Problems []model.ProblemSummary `json:"problems"`
		Total    int                    `json:"total"`
	}
	s.call(t, http.MethodGet, "/api/v1/problems?difficulty=medium", "", nil, &page)
	if page.Total != 1 || page.Problems[0].ID != "add-two" {
		t.Fatalf("filtered list = %+v", page)
	}
	var langs []model.Language
	s.call(t, http.MethodGet, "/api/v1/languages", "", nil, &langs)
	if len(langs) != 1 || langs[0].Slug != "bash" {
		t.Fatalf("languages = %+v", langs)
	}
	if code := s.call(t, http.MethodPost, "/api/v1/problems/import", admin, nil, nil); code != http.StatusNotFound {
		t.Fatalf("import without catalog = %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/metrics"} {
		resp, err := s.Client().Get(s.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s = %d", path, resp.StatusCode)
		}
	}
}

func TestQueueEventsOverWebSocket(t *testing.T) {
	s := newTestServer(t)
	_, alice := s.signup(t, "alice")
	_, bob := s.signup(t, "bob")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/events/ws?jwt=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var status model.QueueStatus
	if code := s.call(t, http.MethodPost, "/api/v1/queue", alice, map[string]string{}, &status); code != http.StatusAccepted {
		t.Fatalf("alice joins = %d", code)
	}
	if code := s.call(t, http.MethodPost, "/api/v1/queue", bob, nil, &status); code != http.StatusCreated || status.Match == nil {
		t.Fatalf("bob joins = %d, %+v", code, status)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var e model.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("no match.created event: %v", err)
		}
		if e.Type == model.EventMatchCreated {
			if e.MatchID != status.Match.ID {
				t.Fatalf("event for %s, want %s", e.MatchID, status.Match.ID)
			}
			return
		}
	}
}

func TestWebSocketNeedsToken(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
}
