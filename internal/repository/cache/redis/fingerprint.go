package redis

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/message-platform/internal/repository/cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// FingerprintCache 基于Redis的指纹缓存，多实例部署时共享去重窗口
type FingerprintCache struct {
	rdb redis.Cmdable
}

func NewFingerprintCache(rdb redis.Cmdable) *FingerprintCache {
	return &FingerprintCache{
		rdb: rdb,
	}
}

func (c *FingerprintCache) Set(ctx context.Context, fingerprint string, messageID uint64, ttl time.Duration) error {
	err := c.rdb.Set(ctx, cache.FingerprintKey(fingerprint), messageID, ttl).Err()
	if err != nil {
		return fmt.Errorf("指纹写入失败: %w", err)
	}
	return nil
}

func (c *FingerprintCache) Get(ctx context.Context, fingerprint string) (uint64, error) {
	id, err := c.rdb.Get(ctx, cache.FingerprintKey(fingerprint)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, cache.ErrKeyNotFound
		}
		return 0, fmt.Errorf("指纹查询失败: %w", err)
	}
	return id, nil
}

func (c *FingerprintCache) Del(ctx context.Context, fingerprint string) error {
	return c.rdb.Del(ctx, cache.FingerprintKey(fingerprint)).Err()
}
