// Package server exposes streaming, submission and status endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"nebulaktv/core/stream"
	"nebulaktv/logger"
	"nebulaktv/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type SongReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Song, error)
}

// AssetLister is the read side of the asset registry.
type AssetLister interface {
	List(ctx context.Context, songID uuid.UUID) ([]*model.MediaAsset, error)
	FindByKind(ctx context.Context, songID uuid.UUID, kind model.AssetKind) (*model.MediaAsset, error)
	IsComplete(ctx context.Context, songID uuid.UUID) (bool, error)
}

type Submitter interface {
	Submit(ctx context.Context, songID uuid.UUID, sourcePath string) (*model.ProcessJob, error)
}

type ResultReader interface {
	Result(ctx context.Context, jobID uuid.UUID) (*model.JobResult, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// APIHandler holds dependencies for HTTP handlers.
type APIHandler struct {
	songs   SongReader
	assets  AssetLister
	engine  *stream.Engine
	jobs    Submitter
	results ResultReader
	checks  map[string]HealthCheck
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(songs SongReader, assets AssetLister, engine *stream.Engine, jobs Submitter, results ResultReader, checks map[string]HealthCheck) *APIHandler {
	return &APIHandler{
		songs:   songs,
		assets:  assets,
		engine:  engine,
		jobs:    jobs,
		results: results,
		checks:  checks,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathUUID reads a UUID route variable, replying 400 when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
