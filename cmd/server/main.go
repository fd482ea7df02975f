package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duel_arena/internal/api"
	"duel_arena/internal/app/service"
	"duel_arena/internal/app/worker"
	"duel_arena/internal/common"
	"duel_arena/internal/common/security"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/config"
	"duel_arena/internal/platform/database"
	"duel_arena/internal/platform/eventbus"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/queue"
	"duel_arena/internal/platform/storage"

	"go.uber.org/zap"
)

const sweepBatch = 100

func main() {
	// 1. Configuration, logging, JWT
	config.Load()
	cfg := config.AppConfig
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: cfg.LogOutput}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	security.InitJWT()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Store. The memory driver is for single-instance development only.
	var repos *repository.Repositories
	var health []func(context.Context) error
	switch cfg.StoreDriver {
	case "memory":
		repos = repository.NewMemoryRepositories()
		logger.Warn(ctx, "using the in-memory store; nothing survives a restart")
	default:
		database.Connect()
		defer database.Close()
		if err := database.Migrate(ctx, database.DB); err != nil {
			logger.Fatal(ctx, "schema migration failed", zap.Error(err))
		}
		repos = repository.NewPgRepositories(database.DB)
		health = append(health, database.DB.PingContext)
	}

	// 3. Redis backs the judge queue and the cross-instance event channel.
	useRedis := cfg.JudgeMode == "redis" || cfg.StoreDriver != "memory"
	if useRedis {
		queue.ConnectRedis()
		defer queue.CloseRedis()
		health = append(health, func(ctx context.Context) error { return queue.RDB.Ping(ctx).Err() })
	}

	// 4. Events
	hub := eventbus.NewHub(64)
	var events eventbus.Multi
	if useRedis {
		bus := eventbus.NewRedisBus(queue.RDB, cfg.EventChannel, hub)
		if err := bus.Start(ctx); err != nil {
			logger.Fatal(ctx, "event channel subscription failed", zap.Error(err))
		}
		events = append(events, bus)
	} else {
		events = append(events, hub)
	}
	if len(cfg.KafkaBrokers) > 0 {
		audit, err := eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
			Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, ClientID: cfg.KafkaClientID,
		})
		if err != nil {
			logger.Fatal(ctx, "kafka publisher setup failed", zap.Error(err))
		}
		defer audit.Close()
		events = append(events, audit)
	}

	// 5. Judge
	judgeCfg, err := judge.ConfigFromApp(cfg)
	if err != nil {
		logger.Fatal(ctx, "invalid judge configuration", zap.Error(err))
	}
	localJudge := judge.New(judgeCfg)
	var evaluator service.Evaluator = localJudge
	if cfg.JudgeMode == "redis" {
		jobs := repository.NewRedisJudgeJobRepository(queue.RDB, cfg.JudgeJobPrefix, time.Hour)
		evaluator = judge.NewRemoteEvaluator(queue.RDB, jobs, judge.RemoteConfig{
			Queue:        cfg.JudgeQueueName,
			ResultPrefix: cfg.JudgeResultPrefix,
			Wait:         time.Duration(cfg.JudgeWaitSeconds) * time.Second,
		})
		// JUDGE_WORKERS=0 leaves evaluation to separate judge-worker processes.
		for range cfg.JudgeWorkers {
			w := worker.NewJudgeWorker(queue.RDB, jobs, localJudge, worker.JudgeWorkerConfig{
				Queue:        cfg.JudgeQueueName,
				ResultPrefix: cfg.JudgeResultPrefix,
				LockTTL:      time.Duration(cfg.JudgeLockTTLSeconds) * time.Second,
			})
			go w.Start(ctx)
		}
	}

	// 6. Services
	statsRetry := common.RetryPolicy{MaxRetries: uint64(cfg.StatsRetryAttempts), InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
	countRetry := common.RetryPolicy{MaxRetries: uint64(cfg.QueueCountRetryAttempts), InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}

	problemService := service.NewProblemService(repos.Problems, evaluator.Languages, service.ProblemLimits{
		TimeLimitMs: cfg.DefaultTimeLimitMs, MemoryLimitKb: cfg.DefaultMemoryLimitKb,
	})
	ledger := service.NewStatsLedger(repos.Stats, service.EloRating(cfg.RatingKFactor), statsRetry)
	matchService := service.NewMatchService(repos, problemService, evaluator, ledger, events, service.MatchConfig{
		Duration:       cfg.MatchDuration(),
		MaxSourceBytes: cfg.MaxSourceBytes,
		Persist:        statsRetry,
	})
	matchmakingService := service.NewMatchmakingService(repos, problemService, events, service.MatchmakingConfig{
		RatingBand:     cfg.RatingBand,
		RoomCodeLength: cfg.RoomCodeLength,
		CountRetry:     countRetry,
	})

	// 7. Problem catalog
	catalog := catalogSource(ctx, cfg)
	if catalog != nil {
		if report, err := problemService.ImportCatalog(ctx, catalog); err != nil {
			logger.Warn(ctx, "problem catalog import incomplete", zap.Error(err))
		} else {
			logger.Info(ctx, "problem catalog ready", zap.Int("imported", len(report.Imported)), zap.Int("skipped", len(report.Skipped)))
		}
	}

	// 8. Background sweeps
	sweepers := []*worker.Sweeper{
		worker.NewSweeper("match-timeouts", time.Duration(cfg.MatchSweepSeconds)*time.Second, func(ctx context.Context) (int, error) {
			return matchService.SweepTimeouts(ctx, sweepBatch)
		}),
		worker.NewSweeper("stats-reconcile", time.Duration(cfg.StatsReconcileSeconds)*time.Second, func(ctx context.Context) (int, error) {
			return ledger.Reconcile(ctx, sweepBatch)
		}),
		worker.NewSweeper("pairing", time.Duration(cfg.PairingSweepSeconds)*time.Second, func(ctx context.Context) (int, error) {
			created, err := matchmakingService.PairWaiting(ctx)
			if _, cerr := matchmakingService.QueueCount(ctx); cerr != nil {
				logger.Debug(ctx, "queue depth refresh failed", zap.Error(cerr))
			}
			return len(created), err
		}),
	}
	for _, s := range sweepers {
		go s.Start(ctx)
	}

	// 9. HTTP
	router := api.NewRouter(api.Services{
		Auth:        service.NewAuthService(repos.Participants, cfg.InitialRating),
		Problems:    problemService,
		Catalog:     catalog,
		Matchmaking: matchmakingService,
		Matches:     matchService,
		Profiles:    service.NewProfileService(repos),
		Hub:         hub,
		Health: func(ctx context.Context) error {
			for _, check := range health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Submissions are judged within the request.
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "server starting", zap.String("port", cfg.APIPort), zap.String("judge_mode", cfg.JudgeMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "could not listen", zap.String("port", cfg.APIPort), zap.Error(err))
		}
	}()

	<-stop
	logger.Info(ctx, "shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", zap.Error(err))
	}
	logger.Info(shutdownCtx, "server and workers stopped")
}

// catalogSource prefers the object store bucket and falls back to the local directory.
func catalogSource(ctx context.Context, cfg *config.Config) service.CatalogSource {
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioSecure,
			Bucket:    cfg.MinioBucket,
		})
		if err != nil {
			logger.Fatal(ctx, "minio client setup failed", zap.Error(err))
		}
		if err := store.Ping(ctx); err != nil {
			logger.Fatal(ctx, "problem bucket unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
		return service.BucketSource{Store: store, Prefix: cfg.MinioPrefix}
	}
	if info, err := os.Stat(cfg.ProblemDir); err == nil && info.IsDir() {
		return service.DirSource{Dir: cfg.ProblemDir}
	}
	logger.Warn(ctx, "no problem catalog configured", zap.String("dir", cfg.ProblemDir))
	return nil
}
