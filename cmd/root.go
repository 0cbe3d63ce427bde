package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nebulaktv/config"
	"nebulaktv/logger"

	"github.com/spf13/cobra"
)

// cfg 在命令执行前加载
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nebulaktv",
	Short: "NebulaKTV 媒体处理与流媒体服务",
	Long:  `NebulaKTV 后端：歌曲处理任务编排、媒体资源登记与 HTTP Range 流媒体。`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   cfg.LogCompress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
