// Command judge-worker evaluates submissions queued by servers running with
// JUDGE_MODE=redis.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"duel_arena/internal/app/worker"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/config"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"
	"duel_arena/internal/platform/queue"

	"go.uber.org/zap"
)

func main() {
	config.Load()
	cfg := config.AppConfig
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: cfg.LogOutput}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	queue.ConnectRedis()
	defer queue.CloseRedis()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	judgeCfg, err := judge.ConfigFromApp(cfg)
	if err != nil {
		logger.Fatal(ctx, "invalid judge configuration", zap.Error(err))
	}
	localJudge := judge.New(judgeCfg)
	jobs := repository.NewRedisJudgeJobRepository(queue.RDB, cfg.JudgeJobPrefix, time.Hour)
	workers := max(cfg.JudgeWorkers, 1)

	// Metrics only; the worker has no other HTTP surface.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.APIPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics server failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		w := worker.NewJudgeWorker(queue.RDB, jobs, localJudge, worker.JudgeWorkerConfig{
			Queue:        cfg.JudgeQueueName,
			ResultPrefix: cfg.JudgeResultPrefix,
			LockTTL:      time.Duration(cfg.JudgeLockTTLSeconds) * time.Second,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}
	logger.Info(ctx, "judge workers running", zap.Int("workers", workers), zap.String("queue", cfg.JudgeQueueName))

	<-ctx.Done()
	logger.Info(context.Background(), "judge workers draining")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
	logger.Info(shutdownCtx, "judge workers stopped")
}
