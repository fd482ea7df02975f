package repository

import (
	"context"
	"strconv"
	"time"

	"duel_arena/internal/common"
	"duel_arena/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// JudgeJobRepository tracks remote judge jobs. Jobs are short lived, so they live in
// Redis hashes that expire instead of a table.
type JudgeJobRepository interface {
	Create(ctx context.Context, job *model.JudgeJob) error
	GetByID(ctx context.Context, id string) (*model.JudgeJob, error)
	UpdateStatus(ctx context.Context, id, status, lastError string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
}

type redisJudgeJobRepository struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisJudgeJobRepository(rdb redis.UniversalClient, prefix string, ttl time.Duration) JudgeJobRepository {
	return &redisJudgeJobRepository{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *redisJudgeJobRepository) key(id string) string {
	return r.prefix + id
}

func (r *redisJudgeJobRepository) Create(ctx context.Context, job *model.JudgeJob) error {
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	key := r.key(job.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"request", string(job.Request),
			"status", job.Status,
			"attempts", job.Attempts,
			"last_error", job.LastError,
			"created_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return common.WrapStoreError("redisJudgeJobRepository.Create", err)
}

func (r *redisJudgeJobRepository) GetByID(ctx context.Context, id string) (*model.JudgeJob, error) {
	const op = "redisJudgeJobRepository.GetByID"
	fields, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, common.WrapStoreError(op, err)
	}
	if len(fields) == 0 {
		return nil, notFound(op, "judge job "+id)
	}
	job := &model.JudgeJob{
		ID:        id,
		Request:   []byte(fields["request"]),
		Status:    fields["status"],
		LastError: fields["last_error"],
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return job, nil
}

func (r *redisJudgeJobRepository) exists(ctx context.Context, op, id string) error {
	n, err := r.rdb.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return common.WrapStoreError(op, err)
	}
	if n == 0 {
		return notFound(op, "judge job "+id)
	}
	return nil
}

func (r *redisJudgeJobRepository) UpdateStatus(ctx context.Context, id, status, lastError string) error {
	const op = "redisJudgeJobRepository.UpdateStatus"
	if err := r.exists(ctx, op, id); err != nil {
		return err
	}
	err := r.rdb.HSet(ctx, r.key(id),
		"status", status,
		"last_error", lastError,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	return common.WrapStoreError(op, err)
}

func (r *redisJudgeJobRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const op = "redisJudgeJobRepository.IncrementAttempts"
	if err := r.exists(ctx, op, id); err != nil {
		return 0, err
	}
	n, err := r.rdb.HIncrBy(ctx, r.key(id), "attempts", 1).Result()
	if err != nil {
		return 0, common.WrapStoreError(op, err)
	}
	return int(n), nil
}
