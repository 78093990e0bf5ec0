package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/common/config"

	"github.com/go-redis/redis/v8"
)

// Client go-redis 客户端别名
type Client = redis.Client

// NewRedisClient 创建 Redis 客户端（不建立连接，首次命令时连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Ping 检查 Redis 是否可用
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close 关闭客户端；nil 时为空操作
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
