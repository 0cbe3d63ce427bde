package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"nebulaktv/core/pipeline"
	"nebulaktv/logger"
	"nebulaktv/queue"
	"nebulaktv/repository"
)

type processRequest struct {
	SourcePath string `json:"sourcePath"`
}

// ProcessSongHandler enqueues processing for a song and replies 202.
func (h *APIHandler) ProcessSongHandler(w http.ResponseWriter, r *http.Request) {
	songID, ok := pathUUID(w, r, "songId")
	if !ok {
		return
	}

	var req processRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SourcePath = strings.TrimSpace(req.SourcePath)
	if req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "sourcePath is required")
		return
	}

	job, err := h.jobs.Submit(r.Context(), songID, req.SourcePath)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "song not found")
			return
		}
		if errors.Is(err, pipeline.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("提交处理任务失败", logger.Stringer("songId", songID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"songId": job.SongID,
		"status": "queued",
	})
}

// SongStatusHandler reports lifecycle status, the failure reason and
// whether all mandatory artifacts are registered.
func (h *APIHandler) SongStatusHandler(w http.ResponseWriter, r *http.Request) {
	songID, ok := pathUUID(w, r, "songId")
	if !ok {
		return
	}
	song, err := h.songs.GetByID(r.Context(), songID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "song not found")
			return
		}
		logger.Error("查询歌曲状态失败", logger.Stringer("songId", songID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	complete, err := h.assets.IsComplete(r.Context(), songID)
	if err != nil {
		logger.Error("检查资源完整性失败", logger.Stringer("songId", songID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]interface{}{
		"songId":    song.ID,
		"title":     song.Title,
		"artist":    song.Artist,
		"status":    song.Status,
		"complete":  complete,
		"updatedAt": song.UpdatedAt,
	}
	if msg := song.MetaJSON.ErrorMessage(); msg != "" {
		resp["error"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}

// JobResultHandler returns the stored outcome of a job.
func (h *APIHandler) JobResultHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobId")
	if !ok {
		return
	}
	res, err := h.results.Result(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrNoResult) {
			writeError(w, http.StatusNotFound, "job result not found")
			return
		}
		logger.Error("读取任务结果失败", logger.Stringer("jobId", jobID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HealthHandler pings every dependency and replies 503 if any fails.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.Warn("健康检查失败", logger.String("dependency", name), logger.ErrorField(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": results})
}
