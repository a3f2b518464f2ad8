package local

import (
	"context"
	"time"

	"gitee.com/flycash/message-platform/internal/repository/cache"
	ca "github.com/patrickmn/go-cache"
)

// FingerprintCache 进程内指纹缓存，单实例部署或测试时使用
type FingerprintCache struct {
	c *ca.Cache
}

func NewFingerprintCache(c *ca.Cache) *FingerprintCache {
	return &FingerprintCache{
		c: c,
	}
}

func (l *FingerprintCache) Set(_ context.Context, fingerprint string, messageID uint64, ttl time.Duration) error {
	l.c.Set(cache.FingerprintKey(fingerprint), messageID, ttl)
	return nil
}

func (l *FingerprintCache) Get(_ context.Context, fingerprint string) (uint64, error) {
	v, ok := l.c.Get(cache.FingerprintKey(fingerprint))
	if !ok {
		return 0, cache.ErrKeyNotFound
	}
	return v.(uint64), nil
}

func (l *FingerprintCache) Del(_ context.Context, fingerprint string) error {
	l.c.Delete(cache.FingerprintKey(fingerprint))
	return nil
}
