package api

import (
	"context"
	"net/http"
	"time"

	"duel_arena/internal/api/handler"
	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
)

// Services is everything the HTTP layer serves.
type Services struct {
	Auth        *service.AuthService
	Problems    *service.ProblemService
	Catalog     service.CatalogSource // optional
	Matchmaking *service.MatchmakingService
	Matches     *service.MatchService
	Profiles    *service.ProfileService
	Hub         *eventbus.Hub
	// Health reports backend reachability for /health; nil means always healthy.
	Health func(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func NewRouter(s Services, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	// Browsers cannot set headers on WebSocket upgrades, so the token may also come
	// in the jwt query parameter.
	r.Use(jwtauth.Verify(security.TokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.Health(ctx); err != nil {
				common.RespondWithJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		common.RespondWithJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	problemHandler := handler.NewProblemHandler(s.Problems, s.Catalog)
	matchmakingHandler := handler.NewMatchmakingHandler(s.Matchmaking)
	profileHandler := handler.NewProfileHandler(s.Profiles)

	r.Route("/api/v1", func(v1 chi.Router) {
		// Long lived; kept out of the request timeout below.
		v1.Route("/events", handler.NewEventHandler(s.Hub, allowedOrigins).RegisterRoutes)

		v1.Group(func(rest chi.Router) {
			// Submissions are judged inside the request, so this has to cover the judge budget.
			rest.Use(chiMiddleware.Timeout(60 * time.Second))

			rest.Route("/auth", handler.NewAuthHandler(s.Auth).RegisterRoutes)
			rest.Route("/problems", problemHandler.RegisterRoutes)
			rest.Route("/languages", problemHandler.RegisterLanguageRoutes)
			rest.Route("/queue", matchmakingHandler.RegisterQueueRoutes)
			rest.Route("/rooms", matchmakingHandler.RegisterRoomRoutes)
			rest.Route("/matches", handler.NewMatchHandler(s.Matches).RegisterRoutes)
			rest.Route("/profiles", profileHandler.RegisterRoutes)
			rest.Route("/leaderboard", profileHandler.RegisterLeaderboardRoutes)
		})
	})

	return r
}
