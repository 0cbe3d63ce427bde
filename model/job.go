package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessJob 队列中的一个处理任务
type ProcessJob struct {
	ID         uuid.UUID `json:"id"`
	SongID     uuid.UUID `json:"songId"`
	SourcePath string    `json:"sourcePath"` // 相对媒体根目录
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// JobResult 任务执行结果，写回队列供查询
type JobResult struct {
	JobID         uuid.UUID            `json:"jobId"`
	SongID        uuid.UUID            `json:"songId"`
	Success       bool                 `json:"success"`
	Status        SongStatus           `json:"status,omitempty"`
	AssetsCreated bool                 `json:"assetsCreated"`
	OutputPaths   map[AssetKind]string `json:"outputPaths,omitempty"`
	Message       string               `json:"message,omitempty"`
	Error         string               `json:"error,omitempty"`
	Attempts      int                  `json:"attempts"`
	FinishedAt    time.Time            `json:"finishedAt"`
}
