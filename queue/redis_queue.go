// Package queue is a durable job queue on Redis lists. Jobs are moved
// atomically into a processing list while a worker runs them and removed on
// acknowledgement, so a crashed worker's jobs can be requeued.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nebulaktv/logger"
	"nebulaktv/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "nebulaktv"

// ErrNoResult 结果不存在或已过期
var ErrNoResult = errors.New("job result not found")

// Delivery is a dequeued job plus the raw payload needed to acknowledge it.
type Delivery struct {
	Job *model.ProcessJob
	raw string
}

// RedisQueue 基于 Redis 列表的任务队列
type RedisQueue struct {
	client    *redis.Client
	name      string
	resultTTL time.Duration
}

func NewRedisQueue(client *redis.Client, name string, resultTTL time.Duration) *RedisQueue {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &RedisQueue{client: client, name: name, resultTTL: resultTTL}
}

func (q *RedisQueue) readyKey() string {
	return fmt.Sprintf("%s:queue:%s", keyPrefix, q.name)
}

func (q *RedisQueue) processingKey() string {
	return fmt.Sprintf("%s:queue:%s:processing", keyPrefix, q.name)
}

func resultKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s:job:%s:result", keyPrefix, jobID)
}

// Enqueue 提交任务，立即返回
func (q *RedisQueue) Enqueue(ctx context.Context, job *model.ProcessJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	logger.Info("任务已入队",
		logger.Stringer("jobId", job.ID),
		logger.Stringer("songId", job.SongID),
		logger.String("queue", q.name))
	return nil
}

// Dequeue blocks up to timeout for the next job. It returns (nil, nil) when
// nothing arrived in time.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.readyKey(), q.processingKey(), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var job model.ProcessJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// 无法解析的消息直接丢弃，避免反复投递
		q.client.LRem(ctx, q.processingKey(), 1, raw)
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &Delivery{Job: &job, raw: raw}, nil
}

// Ack removes a finished job from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", d.Job.ID, err)
	}
	return nil
}

// Requeue moves every job left in the processing list back to the ready
// list. Call it before workers start; jobs may then run more than once.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey(), q.readyKey()).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		logger.Warn("重新投递未确认的任务", logger.Int("count", moved), logger.String("queue", q.name))
	}
	return moved, nil
}

// Len returns the number of waiting and in-flight jobs.
func (q *RedisQueue) Len(ctx context.Context) (ready, processing int64, err error) {
	pipe := q.client.Pipeline()
	readyCmd := pipe.LLen(ctx, q.readyKey())
	procCmd := pipe.LLen(ctx, q.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return readyCmd.Val(), procCmd.Val(), nil
}

// StoreResult 保存任务结果，过期时间为 resultTTL
func (q *RedisQueue) StoreResult(ctx context.Context, res *model.JobResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	if err := q.client.Set(ctx, resultKey(res.JobID), payload, q.resultTTL).Err(); err != nil {
		return fmt.Errorf("store result of job %s: %w", res.JobID, err)
	}
	return nil
}

func (q *RedisQueue) Result(ctx context.Context, jobID uuid.UUID) (*model.JobResult, error) {
	raw, err := q.client.Get(ctx, resultKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoResult
		}
		return nil, err
	}
	var res model.JobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &res, nil
}
