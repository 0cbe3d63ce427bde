package cmd

import (
	"context"
	"fmt"
	"log"

	"nebulaktv/cache"
	"nebulaktv/queue"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并显示任务队列长度。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		ctx := context.Background()
		client, err := cache.NewRedisClient(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.CheckRedis(ctx, client); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		ready, processing, err := queue.NewRedisQueue(client, cfg.QueueName, cfg.JobResultTTL).Len(ctx)
		if err != nil {
			log.Fatalf("读取队列长度失败: %v", err)
		}
		fmt.Printf("队列 %s: 等待 %d, 处理中 %d\n", cfg.QueueName, ready, processing)
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
