package pipeline

import (
	"context"
	"errors"
	"time"

	"nebulaktv/logger"
	"nebulaktv/model"
	"nebulaktv/queue"

	"golang.org/x/sync/errgroup"
)

// Consumer is the side of the job queue a worker reads from.
type Consumer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Requeue(ctx context.Context) (int, error)
	StoreResult(ctx context.Context, res *model.JobResult) error
}

// Worker 从队列取任务并交给 Orchestrator 处理
type Worker struct {
	orch        *Orchestrator
	jobs        Consumer
	concurrency int
	pollTimeout time.Duration
}

func NewWorker(orch *Orchestrator, jobs Consumer, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{orch: orch, jobs: jobs, concurrency: concurrency, pollTimeout: 5 * time.Second}
}

// Run consumes until ctx is cancelled. Jobs left unacknowledged by a previous
// process are requeued first.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.jobs.Requeue(ctx); err != nil {
		return err
	}
	logger.Info("处理 worker 已启动", logger.Int("concurrency", w.concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		id := i
		g.Go(func() error {
			w.loop(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	logger.Info("处理 worker 已停止")
	return err
}

func (w *Worker) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		d, err := w.jobs.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("读取任务失败", logger.Int("worker", id), logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.process(ctx, d)
	}
}

// process handles one delivery. Results are written with a context that
// survives shutdown so a finished job is never lost.
func (w *Worker) process(ctx context.Context, d *queue.Delivery) {
	res, err := w.orch.Handle(ctx, d.Job)
	if errors.Is(err, ErrInterrupted) {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if res != nil {
		if err := w.jobs.StoreResult(writeCtx, res); err != nil {
			logger.Error("保存任务结果失败", logger.Stringer("jobId", d.Job.ID), logger.ErrorField(err))
		}
	}
	if err := w.jobs.Ack(writeCtx, d); err != nil {
		logger.Error("确认任务失败", logger.Stringer("jobId", d.Job.ID), logger.ErrorField(err))
	}
}
