package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"
	"duel_arena/internal/judge"
	"duel_arena/internal/platform/logger"
	"duel_arena/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Evaluator is the local judge a worker runs jobs through.
type Evaluator interface {
	Evaluate(ctx context.Context, req judge.Request) (*model.Verdict, error)
}

type JudgeWorkerConfig struct {
	Queue        string
	ResultPrefix string
	LockPrefix   string
	LockTTL      time.Duration
	// ResultTTL expires result lists nobody popped, e.g. after the caller gave up.
	ResultTTL time.Duration
	// MaxAttempts bounds requeues after transient failures.
	MaxAttempts int
	// PollTimeout is how long one BRPOP blocks before the loop rechecks ctx.
	PollTimeout time.Duration
}

// JudgeWorker consumes judge job IDs from a Redis list, evaluates them and pushes the
// outcome onto the job's result list. A per-job lock keeps a job from being
// evaluated twice when it ends up queued more than once.
type JudgeWorker struct {
	rdb   redis.UniversalClient
	jobs  repository.JudgeJobRepository
	judge Evaluator
	cfg   JudgeWorkerConfig
}

func NewJudgeWorker(rdb redis.UniversalClient, jobs repository.JudgeJobRepository, j Evaluator, cfg JudgeWorkerConfig) *JudgeWorker {
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = "judge:lock:"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &JudgeWorker{rdb: rdb, jobs: jobs, judge: j, cfg: cfg}
}

func (w *JudgeWorker) Start(ctx context.Context) {
	logger.Info(ctx, "judge worker started", zap.String("queue", w.cfg.Queue))
	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "judge worker stopping")
			return
		}
		if _, err := w.ProcessNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error(ctx, "judge worker poll failed", zap.String("queue", w.cfg.Queue), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// ProcessNext waits up to PollTimeout for one job and handles it. It reports whether
// a job ID was popped.
func (w *JudgeWorker) ProcessNext(ctx context.Context) (bool, error) {
	reply, err := w.rdb.BRPop(ctx, w.cfg.PollTimeout, w.cfg.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// BRPop returns [queue, value].
	if len(reply) < 2 || reply[1] == "" {
		logger.Warn(ctx, "judge worker popped an empty job id")
		return false, nil
	}
	w.processWithLock(ctx, reply[1])
	return true, nil
}

func (w *JudgeWorker) lockKey(jobID string) string {
	return w.cfg.LockPrefix + jobID
}

// processWithLock evaluates jobID under its lock. A job that has to go back on the
// queue is pushed only after the lock is released, so the worker that pops it next
// can take the lock.
func (w *JudgeWorker) processWithLock(ctx context.Context, jobID string) {
	ctx = logger.ContextWithFields(ctx, zap.String("job_id", jobID))
	token := uuid.NewString()

	ok, err := w.rdb.SetNX(ctx, w.lockKey(jobID), token, w.cfg.LockTTL).Result()
	if err != nil {
		logger.Error(ctx, "judge job lock attempt failed", zap.Error(err))
		w.requeue(ctx, jobID)
		return
	}
	if !ok {
		// Another worker is on this job already; this copy of the ID is a duplicate.
		logger.Info(ctx, "judge job locked by another worker, dropping duplicate")
		return
	}

	retry := w.handle(ctx, jobID)
	w.release(context.WithoutCancel(ctx), jobID, token)
	if retry {
		w.requeue(context.WithoutCancel(ctx), jobID)
	}
}

func (w *JudgeWorker) release(ctx context.Context, jobID, token string) {
	released, err := releaseScript.Run(ctx, w.rdb, []string{w.lockKey(jobID)}, token).Int()
	switch {
	case err != nil:
		logger.Error(ctx, "judge job lock release failed", zap.Error(err))
	case released == 0:
		logger.Warn(ctx, "judge job lock expired before release")
	}
}

func (w *JudgeWorker) requeue(ctx context.Context, jobID string) {
	if err := w.rdb.LPush(ctx, w.cfg.Queue, jobID).Err(); err != nil {
		logger.Error(ctx, "judge job requeue failed", zap.Error(err))
		return
	}
	logger.Info(ctx, "judge job requeued")
}

func (w *JudgeWorker) setStatus(ctx context.Context, jobID, status, msg string) {
	if err := w.jobs.UpdateStatus(ctx, jobID, status, msg); err != nil {
		logger.Warn(ctx, "judge job status update failed", zap.String("status", status), zap.Error(err))
	}
}

// handle runs one job and reports whether it must be queued again.
func (w *JudgeWorker) handle(ctx context.Context, jobID string) bool {
	job, err := w.jobs.GetByID(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		// Expired: the caller stopped waiting long ago.
		logger.Warn(ctx, "judge job record gone, skipping")
		metrics.JudgeJobs.WithLabelValues("expired").Inc()
		return false
	}
	if err != nil {
		logger.Error(ctx, "judge job lookup failed", zap.Error(err))
		return true
	}
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed {
		logger.Info(ctx, "judge job already finished, skipping", zap.String("status", job.Status))
		return false
	}

	attempts, err := w.jobs.IncrementAttempts(ctx, jobID)
	if err != nil {
		logger.Warn(ctx, "judge job attempt count failed", zap.Error(err))
	}
	w.setStatus(ctx, jobID, model.JobStatusProcessing, "")

	var req judge.Request
	if err := json.Unmarshal(job.Request, &req); err != nil {
		w.fail(ctx, jobID, fmt.Errorf("decode judge request: %w", common.ErrValidation))
		return false
	}

	started := time.Now()
	verdict, err := w.judge.Evaluate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down mid-evaluation; leave the job for another worker.
			w.setStatus(context.WithoutCancel(ctx), jobID, model.JobStatusQueued, err.Error())
			return true
		}
		if common.IsTransient(err) && attempts < w.cfg.MaxAttempts {
			logger.Warn(ctx, "judge job failed transiently, requeueing", zap.Int("attempts", attempts), zap.Error(err))
			w.setStatus(ctx, jobID, model.JobStatusQueued, err.Error())
			return true
		}
		w.fail(ctx, jobID, err)
		return false
	}

	if err := w.pushResult(ctx, model.JudgeJobResult{JobID: jobID, Verdict: verdict}); err != nil {
		logger.Error(ctx, "judge result push failed", zap.Error(err))
		metrics.JudgeJobs.WithLabelValues("push_failed").Inc()
		return false
	}
	w.setStatus(ctx, jobID, model.JobStatusCompleted, "")
	metrics.JudgeJobs.WithLabelValues("completed").Inc()
	logger.Info(ctx, "judge job completed",
		zap.String("language", req.Language),
		zap.Bool("passed", verdict.Passed),
		zap.Duration("took", time.Since(started)))
	return false
}

// fail reports err to the waiting caller with its error code so the caller can
// restore the sentinel.
func (w *JudgeWorker) fail(ctx context.Context, jobID string, cause error) {
	logger.Error(ctx, "judge job failed", zap.Error(cause))
	result := model.JudgeJobResult{JobID: jobID, Error: cause.Error(), ErrorCode: common.ErrorCode(cause)}
	if err := w.pushResult(ctx, result); err != nil {
		logger.Error(ctx, "judge failure push failed", zap.Error(err))
	}
	w.setStatus(ctx, jobID, model.JobStatusFailed, cause.Error())
	metrics.JudgeJobs.WithLabelValues("failed").Inc()
}

func (w *JudgeWorker) pushResult(ctx context.Context, result model.JudgeJobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode judge result: %w", err)
	}
	key := judge.ResultKey(w.cfg.ResultPrefix, result.JobID)
	_, err = w.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, body)
		pipe.Expire(ctx, key, w.cfg.ResultTTL)
		return nil
	})
	return common.WrapStoreError("push judge result", err)
}
