package cmd

import (
	"context"
	"fmt"
	"log"

	"nebulaktv/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的媒体文件，支持列出文件、查看统计信息、删除目录等功能。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		client, err := storage.NewMinioBackend(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			log.Fatalf("创建MinIO客户端失败: %v", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := client.RemovePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return
		}

		objects, stats, err := client.ListObjects(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		if !minioStats {
			fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			for _, o := range objects {
				fmt.Printf("  %-10s %s  %s\n", storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"), o.Key)
			}
		}
		fmt.Printf("\n对象数: %d, 总大小: %s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  nebulaktv minio

  # 只看某首歌的处理产物
  nebulaktv minio -p "uploads/processed/<songId>/"

  # 显示存储桶统计信息
  nebulaktv minio -s

  # 删除目录及其下的所有文件
  nebulaktv minio -d -p "uploads/processed/<songId>/"`
}
