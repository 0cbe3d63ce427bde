package cmd

import (
	"fmt"
	"time"

	"nebulaktv/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var submitWait bool

var submitCmd = &cobra.Command{
	Use:   "submit <songId> <sourcePath>",
	Short: "提交歌曲处理任务",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		songID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid song id %q: %w", args[0], err)
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		job, err := a.orch.Submit(ctx, songID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("任务已提交: %s\n", job.ID)
		if !submitWait {
			return nil
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			res, err := a.queue.Result(ctx, job.ID)
			if err != nil {
				logger.Debug("任务结果尚未就绪", logger.Stringer("jobId", job.ID))
				continue
			}
			fmt.Printf("状态: %s  尝试次数: %d\n", res.Status, res.Attempts)
			if res.Error != "" {
				fmt.Printf("错误: %s\n", res.Error)
			}
			for kind, p := range res.OutputPaths {
				fmt.Printf("  %-18s %s\n", kind, p)
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "等待任务完成并打印结果")
}
