package cmd

import (
	"nebulaktv/core/pipeline"
	"nebulaktv/logger"

	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "启动处理 worker",
	Long:  `从 Redis 队列消费歌曲处理任务，直到收到退出信号`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			logger.Fatal("初始化失败", logger.ErrorField(err))
		}
		defer a.close()

		if err := pipeline.NewWorker(a.orch, a.queue, concurrency()).Run(ctx); err != nil {
			logger.Fatal("worker 异常退出", logger.ErrorField(err))
		}
	},
}

func concurrency() int {
	if workerConcurrency > 0 {
		return workerConcurrency
	}
	return cfg.WorkerConcurrency
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "并发处理数，默认读取 WORKER_CONCURRENCY")
}
