// Package pipeline drives a song from PENDING through processing to READY
// or FAILED.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"nebulaktv/core/stream"
	"nebulaktv/logger"
	"nebulaktv/model"
	"nebulaktv/repository"
	"nebulaktv/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// SongStore is the part of the song repository the orchestrator writes to.
type SongStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Song, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.SongStatus) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// AssetRegistry records produced files and reports missing mandatory kinds.
type AssetRegistry interface {
	RegisterOrReplace(ctx context.Context, songID uuid.UUID, kind model.AssetKind, path string, meta model.AssetMeta) (*model.MediaAsset, error)
	Missing(ctx context.Context, songID uuid.UUID) ([]model.AssetKind, error)
}

// JobQueue accepts new jobs and returns results stored by earlier runs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.ProcessJob) error
	Result(ctx context.Context, jobID uuid.UUID) (*model.JobResult, error)
}

// Options 处理流程参数
type Options struct {
	MediaRoot     string
	MaxAttempts   int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	SoftTimeLimit time.Duration
	// NewBackOff overrides the retry schedule; used by tests.
	NewBackOff func() backoff.BackOff
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 10 * time.Minute
	}
	if o.SoftTimeLimit <= 0 {
		o.SoftTimeLimit = 50 * time.Minute
	}
	if o.NewBackOff == nil {
		delay, maxDelay := o.RetryDelay, o.RetryMaxDelay
		o.NewBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(delay),
				backoff.WithMaxInterval(maxDelay),
				backoff.WithMaxElapsedTime(0),
			)
		}
	}
}

// Orchestrator 歌曲处理生命周期
type Orchestrator struct {
	songs    SongStore
	registry AssetRegistry
	queue    JobQueue
	store    storage.Backend
	steps    []Step
	opts     Options
}

// NewOrchestrator wires the lifecycle. store may be nil when outputs are
// served straight from the local media root.
func NewOrchestrator(songs SongStore, registry AssetRegistry, queue JobQueue, store storage.Backend, steps []Step, opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		songs:    songs,
		registry: registry,
		queue:    queue,
		store:    store,
		steps:    steps,
		opts:     opts,
	}
}

// Submit validates the request and enqueues a job. It does not wait for it.
func (o *Orchestrator) Submit(ctx context.Context, songID uuid.UUID, sourcePath string) (*model.ProcessJob, error) {
	if _, err := o.songs.GetByID(ctx, songID); err != nil {
		return nil, err
	}
	if _, err := NewLayout(o.opts.MediaRoot, songID, sourcePath); err != nil {
		return nil, err
	}
	job := &model.ProcessJob{
		ID:         uuid.New(),
		SongID:     songID,
		SourcePath: sourcePath,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Handle runs one delivery of job to a terminal state. It returns
// ErrInterrupted, and writes nothing terminal, when ctx is cancelled before
// the run finishes; any other outcome is reported in the result.
func (o *Orchestrator) Handle(ctx context.Context, job *model.ProcessJob) (*model.JobResult, error) {
	res := &model.JobResult{JobID: job.ID, SongID: job.SongID}
	defer func() { res.FinishedAt = time.Now().UTC() }()

	runCtx, cancel := context.WithTimeout(ctx, o.opts.SoftTimeLimit)
	defer cancel()

	song, err := o.songs.GetByID(runCtx, job.SongID)
	if err != nil {
		if ctx.Err() != nil {
			return res, ErrInterrupted
		}
		if errors.Is(err, repository.ErrNotFound) {
			logger.Error("歌曲不存在，放弃任务", logger.Stringer("jobId", job.ID), logger.Stringer("songId", job.SongID))
			res.Error = "song not found"
			return res, nil
		}
		return o.fail(ctx, res, Fatal("load song", err))
	}

	if song.Status.IsTerminal() {
		if prior, err := o.queue.Result(runCtx, job.ID); err == nil && prior != nil {
			logger.Info("任务已完成，忽略重复投递",
				logger.Stringer("jobId", job.ID),
				logger.Stringer("songId", song.ID),
				logger.String("status", string(song.Status)))
			return prior, nil
		}
	}
	if song.Status == model.StatusProcessing {
		logger.Warn("歌曲已在处理中，可能是重复投递", logger.Stringer("songId", song.ID))
	}
	if err := o.setStatus(runCtx, song, model.StatusProcessing); err != nil {
		if ctx.Err() != nil {
			return res, ErrInterrupted
		}
		return o.fail(ctx, res, Fatal("mark processing", err))
	}
	logger.Info("开始处理歌曲",
		logger.Stringer("jobId", job.ID),
		logger.Stringer("songId", song.ID),
		logger.String("source", job.SourcePath))

	layout, err := NewLayout(o.opts.MediaRoot, song.ID, job.SourcePath)
	if err != nil {
		return o.fail(ctx, res, Fatal("layout", err))
	}
	if _, err := os.Stat(layout.Source()); err != nil {
		return o.fail(ctx, res, Fatal("source", fmt.Errorf("source file unavailable: %w", err)))
	}
	if err := os.MkdirAll(layout.OutputDir(), 0755); err != nil {
		return o.fail(ctx, res, Fatal("output dir", err))
	}

	artifacts, attempts, err := o.runSteps(runCtx, layout.StepInput(song.ID))
	res.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("处理被中断，任务将重新投递", logger.Stringer("songId", song.ID))
			return res, ErrInterrupted
		}
		return o.fail(ctx, res, err)
	}

	res.OutputPaths = o.register(runCtx, song.ID, layout, artifacts)
	res.AssetsCreated = len(res.OutputPaths) > 0

	missing, err := o.registry.Missing(runCtx, song.ID)
	if err != nil {
		return o.fail(ctx, res, Fatal("completeness", err))
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, k := range missing {
			names[i] = string(k)
		}
		return o.fail(ctx, res, Fatal("completeness", fmt.Errorf("mandatory artifacts missing: %s", strings.Join(names, ", "))))
	}

	if err := o.setStatus(runCtx, song, model.StatusReady); err != nil {
		return o.fail(ctx, res, Fatal("mark ready", err))
	}
	res.Success = true
	res.Status = model.StatusReady
	res.Message = "processing completed"
	logger.Info("歌曲处理完成",
		logger.Stringer("songId", song.ID),
		logger.Int("assets", len(res.OutputPaths)),
		logger.Int("attempts", attempts))
	return res, nil
}

// setStatus writes next if the lifecycle allows it from the song's current status.
func (o *Orchestrator) setStatus(ctx context.Context, song *model.Song, next model.SongStatus) error {
	if !song.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s", song.Status, next)
	}
	if err := o.songs.UpdateStatus(ctx, song.ID, next); err != nil {
		return err
	}
	song.Status = next
	return nil
}

// runSteps runs the steps in order. A transient failure is retried from the
// failing step with exponential backoff until MaxAttempts runs have been made.
func (o *Orchestrator) runSteps(ctx context.Context, in StepInput) ([]Artifact, int, error) {
	var (
		produced []Artifact
		next     int
		attempts int
	)

	operation := func() error {
		attempts++
		for next < len(o.steps) {
			step := o.steps[next]
			out, err := step.Run(ctx, in)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ErrProcessingTimeout)
				}
				classified := Classify(err)
				if IsTransient(classified) {
					return classified
				}
				return backoff.Permanent(classified)
			}
			produced = append(produced, out...)
			next++
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("处理步骤暂时失败，准备重试",
			logger.Stringer("songId", in.SongID),
			logger.Int("attempt", attempts),
			logger.Int("maxAttempts", o.opts.MaxAttempts),
			logger.Duration("wait", wait),
			logger.ErrorField(err))
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(o.opts.NewBackOff(), uint64(o.opts.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return produced, attempts, nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrProcessingTimeout) {
		return nil, attempts, ErrProcessingTimeout
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return nil, attempts, Fatal(transient.Step, fmt.Errorf("gave up after %d attempts: %w", attempts, transient.Err))
	}
	return nil, attempts, err
}

// register records every artifact. A failed registration is logged and
// skipped; the completeness check afterwards decides the outcome.
func (o *Orchestrator) register(ctx context.Context, songID uuid.UUID, layout Layout, artifacts []Artifact) map[model.AssetKind]string {
	sort.SliceStable(artifacts, func(i, j int) bool { return kindOrder(artifacts[i].Kind) < kindOrder(artifacts[j].Kind) })

	uploader, _ := o.store.(storage.Uploader)
	paths := make(map[model.AssetKind]string, len(artifacts))
	for _, a := range artifacts {
		rel, err := layout.RelOf(a.Path)
		if err != nil {
			logger.Error("产物路径无效", logger.Stringer("songId", songID), logger.String("path", a.Path), logger.ErrorField(err))
			continue
		}
		meta := a.Meta
		if meta.FileSize == nil {
			if info, err := os.Stat(a.Path); err == nil {
				size := info.Size()
				meta.FileSize = &size
			}
		}
		if uploader != nil {
			if err := uploader.Upload(ctx, rel, a.Path, stream.ContentTypeFor(rel)); err != nil {
				logger.Error("上传产物失败", logger.Stringer("songId", songID), logger.String("path", rel), logger.ErrorField(err))
				continue
			}
		}
		if _, err := o.registry.RegisterOrReplace(ctx, songID, a.Kind, rel, meta); err != nil {
			logger.Error("登记产物失败",
				logger.Stringer("songId", songID),
				logger.String("kind", string(a.Kind)),
				logger.ErrorField(err))
			continue
		}
		paths[a.Kind] = rel
	}
	return paths
}

func kindOrder(k model.AssetKind) int {
	for i, known := range model.AllAssetKinds {
		if k == known {
			return i
		}
	}
	return len(model.AllAssetKinds)
}

// fail moves the song to FAILED with a reason. The write uses a context that
// outlives the soft time limit.
func (o *Orchestrator) fail(ctx context.Context, res *model.JobResult, cause error) (*model.JobResult, error) {
	reason := failureReason(cause)
	res.Success = false
	res.Status = model.StatusFailed
	res.Error = reason

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.songs.MarkFailed(writeCtx, res.SongID, reason); err != nil {
		logger.Error("写入失败状态出错",
			logger.Stringer("songId", res.SongID),
			logger.String("reason", reason),
			logger.ErrorField(err))
	}
	logger.Error("歌曲处理失败",
		logger.Stringer("jobId", res.JobID),
		logger.Stringer("songId", res.SongID),
		logger.String("reason", reason))
	return res, nil
}

func failureReason(err error) string {
	if errors.Is(err, ErrProcessingTimeout) {
		return ErrProcessingTimeout.Error()
	}
	if err == nil || err.Error() == "" {
		return "processing failed"
	}
	return err.Error()
}
