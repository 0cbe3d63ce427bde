package server

import (
	"errors"
	"net/http"

	"nebulaktv/core/stream"
	"nebulaktv/logger"
	"nebulaktv/model"
)

// assetView is the JSON descriptor of one registered file.
type assetView struct {
	*model.MediaAsset
	StreamURL   string `json:"streamUrl"`
	ContentType string `json:"contentType"`
}

func newAssetView(a *model.MediaAsset) assetView {
	return assetView{
		MediaAsset:  a,
		StreamURL:   "/api/stream/" + a.ID.String(),
		ContentType: stream.ContentTypeFor(a.Path),
	}
}

// StreamAssetHandler serves GET and HEAD on /api/stream/{assetId}.
func (h *APIHandler) StreamAssetHandler(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathUUID(w, r, "assetId")
	if !ok {
		return
	}
	res, err := h.engine.Resolve(r.Context(), assetID)
	if err != nil {
		h.writeStreamError(w, r, err)
		return
	}
	h.serve(w, r, res)
}

// AssetByKindHandler describes the first artifact of kind for a song. The
// bytes are fetched through the descriptor's streamUrl.
func (h *APIHandler) AssetByKindHandler(kind model.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		songID, ok := pathUUID(w, r, "songId")
		if !ok {
			return
		}
		asset, err := h.assets.FindByKind(r.Context(), songID, kind)
		if err != nil {
			h.writeStreamError(w, r, err)
			return
		}
		if asset == nil {
			writeError(w, http.StatusNotFound, string(kind)+" not available")
			return
		}
		writeJSON(w, http.StatusOK, newAssetView(asset))
	}
}

func (h *APIHandler) serve(w http.ResponseWriter, r *http.Request, res *stream.Resource) {
	err := h.engine.Serve(w, r, res)
	if err == nil {
		return
	}

	var werr *stream.WriteError
	switch {
	case errors.Is(err, stream.ErrMalformedRange), errors.Is(err, stream.ErrUnsatisfiableRange):
		// 416 已写出
		logger.Debug("Range 请求无效",
			logger.Stringer("assetId", res.Asset.ID),
			logger.String("range", r.Header.Get("Range")))
	case errors.As(err, &werr):
		// 客户端断开，响应已开始
	default:
		h.writeStreamError(w, r, err)
	}
}

func (h *APIHandler) writeStreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stream.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "artifact not found")
	case errors.Is(err, stream.ErrSourceMissing):
		logger.Warn("资源文件缺失", logger.String("path", r.URL.Path), logger.ErrorField(err))
		writeError(w, http.StatusNotFound, "artifact file missing")
	default:
		logger.Error("流媒体请求失败", logger.String("path", r.URL.Path), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListAssetsHandler lists the artifacts of a song, optionally only those
// of ?kind=.
func (h *APIHandler) ListAssetsHandler(w http.ResponseWriter, r *http.Request) {
	songID, ok := pathUUID(w, r, "songId")
	if !ok {
		return
	}
	var kind model.AssetKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := model.ParseAssetKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = k
	}
	assets, err := h.assets.List(r.Context(), songID)
	if err != nil {
		logger.Error("获取资源列表失败", logger.Stringer("songId", songID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]assetView, 0, len(assets))
	for _, a := range assets {
		if kind != "" && a.Kind != kind {
			continue
		}
		views = append(views, newAssetView(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"songId": songID,
		"assets": views,
	})
}

// AssetInfoHandler describes one artifact and whether its file is readable.
func (h *APIHandler) AssetInfoHandler(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathUUID(w, r, "assetId")
	if !ok {
		return
	}
	res, err := h.engine.Resolve(r.Context(), assetID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"asset":       newAssetView(res.Asset),
			"size":        res.Size,
			"contentType": res.ContentType,
			"exists":      true,
		})
	case errors.Is(err, stream.ErrSourceMissing):
		asset, gerr := h.engine.Asset(r.Context(), assetID)
		if gerr != nil {
			h.writeStreamError(w, r, gerr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"asset":       newAssetView(asset),
			"size":        0,
			"contentType": stream.ContentTypeFor(asset.Path),
			"exists":      false,
		})
	default:
		h.writeStreamError(w, r, err)
	}
}
