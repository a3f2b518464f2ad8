package delayqueue

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/pop_due.lua
var popDueScript string

const defaultKey = "delayqueue:message"

// RedisQueue 基于Redis ZSET的延迟队列实现
// score 为任务就绪时间（毫秒），到期弹出由lua脚本原子完成
type RedisQueue struct {
	cmd redis.Cmdable
	key string
}

func NewRedisQueue(cmd redis.Cmdable) *RedisQueue {
	return &RedisQueue{
		cmd: cmd,
		key: defaultKey,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	err = q.cmd.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(readyAt),
		Member: string(payload),
	}).Err()
	if err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, bool, error) {
	res, err := q.cmd.Eval(ctx, popDueScript,
		[]string{q.key},
		time.Now().UnixMilli(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("任务出队失败: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(res), &task); err != nil {
		return Task{}, false, fmt.Errorf("任务反序列化失败: %w", err)
	}
	return task, true, nil
}
