package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"
	"duel_arena/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RemoteConfig struct {
	Queue        string
	ResultPrefix string
	// Wait bounds how long Evaluate blocks for a worker's answer.
	Wait      time.Duration
	Languages []Language
}

// RemoteEvaluator hands evaluations to judge workers through a Redis list and blocks
// on the job's result list.
type RemoteEvaluator struct {
	rdb   redis.UniversalClient
	jobs  repository.JudgeJobRepository
	cfg   RemoteConfig
	langs registry
}

func NewRemoteEvaluator(rdb redis.UniversalClient, jobs repository.JudgeJobRepository, cfg RemoteConfig) *RemoteEvaluator {
	return &RemoteEvaluator{rdb: rdb, jobs: jobs, cfg: cfg, langs: newRegistry(cfg.Languages)}
}

// ResultKey is the list a worker pushes the outcome of jobID onto.
func ResultKey(prefix, jobID string) string {
	return prefix + jobID
}

func (r *RemoteEvaluator) Supports(language string) bool {
	_, ok := r.langs.lookup(language)
	return ok
}

func (r *RemoteEvaluator) Languages() []model.Language {
	return r.langs.list()
}

func (r *RemoteEvaluator) Evaluate(ctx context.Context, req Request) (*model.Verdict, error) {
	if !r.Supports(req.Language) {
		return nil, fmt.Errorf("language %q: %w", req.Language, common.ErrUnsupportedLanguage)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode judge request: %w", err)
	}

	job := &model.JudgeJob{ID: uuid.NewString(), Request: payload, Status: model.JobStatusQueued}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create judge job: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.cfg.Queue, job.ID).Err(); err != nil {
		return nil, common.WrapStoreError("push judge job", err)
	}

	reply, err := r.rdb.BLPop(ctx, r.cfg.Wait, ResultKey(r.cfg.ResultPrefix, job.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("judge job %s got no answer within %s: %w", job.ID, r.cfg.Wait, common.ErrServiceUnavailable)
	}
	if err != nil {
		return nil, common.WrapStoreError("wait judge result", err)
	}
	// BLPop returns [key, value].
	var result model.JudgeJobResult
	if err := json.Unmarshal([]byte(reply[1]), &result); err != nil {
		return nil, fmt.Errorf("decode judge result: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("judge job %s: %s: %w", job.ID, result.Error, errorFromCode(result.ErrorCode))
	}
	if result.Verdict == nil {
		return nil, fmt.Errorf("judge job %s returned no verdict: %w", job.ID, common.ErrInternalServer)
	}
	return result.Verdict, nil
}

func errorFromCode(code string) error {
	switch code {
	case "UnsupportedLanguage":
		return common.ErrUnsupportedLanguage
	case "TransientBackendError":
		return common.ErrTransientBackend
	case "SandboxUnavailable":
		return common.ErrSandboxUnavailable
	}
	return common.ErrInternalServer
}
