package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var ErrKeyNotFound = errors.New("键不存在")

// DefaultFingerprintTTL 指纹去重窗口
const DefaultFingerprintTTL = 3600 * time.Second

// FingerprintKey 内容指纹缓存键
func FingerprintKey(fingerprint string) string {
	return fmt.Sprintf("msg:fingerprint:%s", fingerprint)
}

// FingerprintCache 内容指纹到消息ID的映射，用于时间窗口内的内容去重。
// 仅作参考信号，缓存不可用时按未命中处理，不阻断准入；
// 强幂等由幂等键上的数据库唯一索引保证
type FingerprintCache interface {
	Set(ctx context.Context, fingerprint string, messageID uint64, ttl time.Duration) error
	// Get 返回指纹对应的消息ID，窗口内不存在返回 ErrKeyNotFound
	Get(ctx context.Context, fingerprint string) (uint64, error)
	Del(ctx context.Context, fingerprint string) error
}
