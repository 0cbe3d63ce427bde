package cmd

import (
	"fmt"

	"nebulaktv/core/registry"
	"nebulaktv/db"
	"nebulaktv/repository"
	"nebulaktv/storage"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <songId>",
	Short: "查看歌曲处理状态与资源",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		songID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid song id %q: %w", args[0], err)
		}

		gdb, err := db.OpenGorm(cfg)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		ctx := cmd.Context()
		song, err := repository.NewGormSongRepository(gdb).GetByID(ctx, songID)
		if err != nil {
			return err
		}
		reg := registry.New(repository.NewGormMediaAssetRepository(gdb))
		assets, err := reg.List(ctx, songID)
		if err != nil {
			return err
		}
		missing, err := reg.Missing(ctx, songID)
		if err != nil {
			return err
		}

		fmt.Printf("歌曲: %s - %s\n", song.Artist, song.Title)
		fmt.Printf("状态: %s\n", song.Status)
		if msg := song.MetaJSON.ErrorMessage(); msg != "" {
			fmt.Printf("错误: %s\n", msg)
		}
		fmt.Printf("资源完整: %v\n", len(missing) == 0)
		if len(missing) > 0 {
			fmt.Printf("缺少: %v\n", missing)
		}
		for _, a := range assets {
			size := "-"
			if a.FileSize != nil {
				size = storage.FormatSize(*a.FileSize)
			}
			fmt.Printf("  %-18s %-10s %s\n", a.Kind, size, a.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
