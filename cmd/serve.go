package cmd

import (
	"nebulaktv/core/pipeline"
	"nebulaktv/logger"
	"nebulaktv/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "同时启动 HTTP 服务和处理 worker",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			logger.Fatal("初始化失败", logger.ErrorField(err))
		}
		defer a.close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Run(gctx, cfg.HTTPAddr, server.NewRouter(a.apiHandler()))
		})
		g.Go(func() error {
			return pipeline.NewWorker(a.orch, a.queue, cfg.WorkerConcurrency).Run(gctx)
		})
		if err := g.Wait(); err != nil {
			logger.Error("服务异常退出", logger.ErrorField(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
