package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWrapper go-redis包装器
type redisWrapper struct {
	client *redis.Client
}

// NewRedisCache 创建基于Redis的分布式缓存
func NewRedisCache(config RedisConfig) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})
	return &redisWrapper{client: client}
}

// Get 获取缓存值
func (rc *redisWrapper) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := rc.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set 设置缓存值
func (rc *redisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return rc.client.Set(ctx, key, value, expiration).Err()
}

// Delete 删除缓存
func (rc *redisWrapper) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// Exists 检查键是否存在
func (rc *redisWrapper) Exists(ctx context.Context, key string) bool {
	n, err := rc.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

// Clear 清空所有缓存
func (rc *redisWrapper) Clear(ctx context.Context) error {
	return rc.client.FlushDB(ctx).Err()
}

// Close 关闭连接
func (rc *redisWrapper) Close() error {
	return rc.client.Close()
}
