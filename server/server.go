package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nebulaktv/logger"
	"nebulaktv/model"

	"github.com/gorilla/mux"
)

// corsMiddleware 添加 CORS 头，并暴露 Range 相关响应头给浏览器播放器
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册全部路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()

	// 按 id 的 Range 流媒体
	api.HandleFunc("/stream/{assetId}", h.StreamAssetHandler).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	api.HandleFunc("/stream/asset/{assetId}/info", h.AssetInfoHandler).Methods(http.MethodGet, http.MethodOptions)

	// 按类型查询资源描述，字节流走 streamUrl
	api.HandleFunc("/stream/song/{songId}/assets", h.ListAssetsHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stream/song/{songId}/video", h.AssetByKindHandler(model.KindPrimaryVideo)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stream/song/{songId}/audio/original", h.AssetByKindHandler(model.KindOriginalAudio)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stream/song/{songId}/audio/instrumental", h.AssetByKindHandler(model.KindInstrumentalAudio)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stream/song/{songId}/audio/vocal", h.AssetByKindHandler(model.KindVocalAudio)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stream/song/{songId}/lyrics", h.AssetByKindHandler(model.KindTimedLyrics)).Methods(http.MethodGet, http.MethodOptions)

	// 处理任务
	api.HandleFunc("/songs/{songId}/process", h.ProcessSongHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/songs/{songId}/status", h.SongStatusHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/jobs/{jobId}", h.JobResultHandler).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	// 流媒体响应可能很长，不设置 WriteTimeout
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP 服务已停止")
	return nil
}
