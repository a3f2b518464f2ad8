package loopjob

import (
	"context"
	"fmt"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

// 多实例部署时的后台循环任务调度：同一个 key 同一时刻只有一个实例持有锁并执行，
// 其余实例周期性抢锁，持有者崩溃后锁过期即被接管

const (
	lockOpTimeout = time.Second * 3
	retryInterval = time.Minute
)

type InfiniteLoop struct {
	dclient dlock.Client
	key     string
	biz     func(ctx context.Context) error
	logger  *elog.Component
}

// NewInfiniteLoop 创建循环任务。biz 会在持锁期间被反复调用，ctx 取消后整个循环退出
func NewInfiniteLoop(dclient dlock.Client, biz func(ctx context.Context) error, key string) *InfiniteLoop {
	return &InfiniteLoop{
		dclient: dclient,
		key:     key,
		biz:     biz,
		logger:  elog.DefaultLogger.With(elog.String("key", key)),
	}
}

// Run 阻塞运行，直到 ctx 被取消
func (l *InfiniteLoop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		lock, ok := l.acquire(ctx)
		if !ok {
			sleepCtx(ctx, retryInterval)
			continue
		}

		if err := l.runWhileHeld(ctx, lock); err != nil {
			l.logger.Error("任务循环中断，稍后重新抢锁", elog.FieldErr(err))
		}
		l.release(lock)

		sleepCtx(ctx, retryInterval)
	}
	l.logger.Info("任务被取消，退出任务循环")
}

func (l *InfiniteLoop) acquire(ctx context.Context) (dlock.Lock, bool) {
	lock, err := l.dclient.NewLock(ctx, l.key, retryInterval)
	if err != nil {
		l.logger.Error("初始化分布式锁失败", elog.FieldErr(err))
		return nil, false
	}
	lockCtx, cancel := context.WithTimeout(ctx, lockOpTimeout)
	defer cancel()
	// 抢锁失败不区分系统错误和锁被占用，都等下一轮
	if err := lock.Lock(lockCtx); err != nil {
		return nil, false
	}
	return lock, true
}

// runWhileHeld 持锁期间反复执行业务并续约，续约失败或 ctx 取消时返回
func (l *InfiniteLoop) runWhileHeld(ctx context.Context, lock dlock.Lock) error {
	for {
		if err := l.biz(ctx); err != nil {
			l.logger.Error("业务执行失败", elog.FieldErr(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refCtx, cancel := context.WithTimeout(ctx, lockOpTimeout)
		err := lock.Refresh(refCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("分布式锁续约失败 %w", err)
		}
	}
}

func (l *InfiniteLoop) release(lock dlock.Lock) {
	// 此时外层 ctx 可能已被取消，解锁用独立的超时上下文
	unCtx, cancel := context.WithTimeout(context.Background(), lockOpTimeout)
	defer cancel()
	if err := lock.Unlock(unCtx); err != nil {
		l.logger.Error("释放分布式锁失败", elog.FieldErr(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
