package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"nebulaktv/model"
	"nebulaktv/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.NewRedisQueue(client, "test", time.Hour)
}

func TestWorkerProcessesSubmittedJob(t *testing.T) {
	f := newFixture(t)
	q := newRedisQueue(t)
	orch := NewOrchestrator(f.songs, f.registry, q, nil, fullSteps(), Options{MediaRoot: f.root, SoftTimeLimit: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := orch.Submit(ctx, f.song.ID, sourceRel)
	require.NoError(t, err)

	w := NewWorker(orch, q, 2)
	w.pollTimeout = 100 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var res *model.JobResult
	require.Eventually(t, func() bool {
		res, err = q.Result(context.Background(), job.ID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, res.Success)
	assert.Equal(t, model.StatusReady, res.Status)

	ready, processing, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, processing)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerLeavesInterruptedJobUnacked(t *testing.T) {
	f := newFixture(t)
	q := newRedisQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	steps := []Step{StepFunc{StepName: "extract", Fn: func(ctx context.Context, _ StepInput) ([]Artifact, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}}
	orch := NewOrchestrator(f.songs, f.registry, q, nil, steps, Options{MediaRoot: f.root, SoftTimeLimit: time.Minute})

	job, err := orch.Submit(ctx, f.song.ID, sourceRel)
	require.NoError(t, err)

	w := NewWorker(orch, q, 1)
	w.pollTimeout = 100 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	cancel()
	require.NoError(t, <-done)

	_, processing, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
	_, err = q.Result(context.Background(), job.ID)
	assert.True(t, errors.Is(err, queue.ErrNoResult))
	assert.Equal(t, model.StatusProcessing, f.current(t).Status)
}
