package cmd

import (
	"fmt"

	"nebulaktv/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var purgeReset bool

var purgeCmd = &cobra.Command{
	Use:   "purge <songId>",
	Short: "删除歌曲的全部媒体资源记录",
	Long:  `删除歌曲的资源记录并清理 Redis 中的资源缓存，文件本身不会被删除`,
	Args:  cobra.ExactArgs(1),
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

		// DeleteAll 同时清理 Redis 中的资源缓存
		n, err := a.registry.DeleteAll(ctx, songID)
		if err != nil {
			return err
		}

		if purgeReset {
			if err := a.songs.UpdateStatus(ctx, songID, model.StatusPending); err != nil {
				return err
			}
		}
		fmt.Printf("已删除 %d 条资源记录\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().BoolVar(&purgeReset, "reset", false, "同时将歌曲状态重置为 PENDING")
}
