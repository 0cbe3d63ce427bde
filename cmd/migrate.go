package cmd

import (
	"fmt"

	"nebulaktv/db"
	"nebulaktv/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新数据表",
	Run: func(cmd *cobra.Command, args []string) {
		gdb, err := db.OpenGorm(cfg)
		if err != nil {
			logger.Fatal("无法连接数据库", logger.ErrorField(err))
		}
		defer db.Close(gdb)

		if err := db.Migrate(gdb); err != nil {
			logger.Fatal("迁移失败", logger.ErrorField(err))
		}
		fmt.Println("数据表迁移完成")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
