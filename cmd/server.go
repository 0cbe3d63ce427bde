package cmd

import (
	"nebulaktv/logger"
	"nebulaktv/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务",
	Long:  `启动流媒体、任务提交与状态查询的 HTTP 服务，不处理任务`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			logger.Fatal("初始化失败", logger.ErrorField(err))
		}
		defer a.close()

		if err := server.Run(ctx, cfg.HTTPAddr, server.NewRouter(a.apiHandler())); err != nil {
			logger.Fatal("HTTP 服务异常退出", logger.ErrorField(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
