package dispatch

import (
	"context"
	"time"

	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"github.com/gotomicro/ego/core/elog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency    = 8
	defaultPollInterval   = time.Second
	defaultAttemptTimeout = time.Minute
)

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	// Concurrency 并发工作协程数
	Concurrency int `yaml:"concurrency"`
	// PollInterval 队列为空时的轮询间隔
	PollInterval time.Duration `yaml:"pollInterval"`
	// AttemptTimeout 单次发送尝试的超时时间
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
}

// Scheduler 重试调度器：消费延迟队列，每个任务执行一次发送尝试
type Scheduler struct {
	queue      delayqueue.Queue
	dispatcher *Dispatcher
	cfg        SchedulerConfig
	logger     *elog.Component
}

// NewScheduler 创建调度器实例
func NewScheduler(queue delayqueue.Queue, dispatcher *Dispatcher, cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	return &Scheduler{
		queue:      queue,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     elog.DefaultLogger,
	}
}

// Start 启动全部工作协程，阻塞直到 ctx 被取消
func (s *Scheduler) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Concurrency; i++ {
		eg.Go(func() error {
			return s.work(ctx)
		})
	}
	return eg.Wait()
}

func (s *Scheduler) work(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.logger.Error("任务出队失败", elog.FieldErr(err))
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}
		if !ok {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		err = s.dispatcher.Dispatch(attemptCtx, task.MessageID)
		cancel()
		if err != nil {
			s.logger.Error("投递执行失败",
				elog.Any("messageID", task.MessageID),
				elog.Int32("deliveryCount", task.DeliveryCount),
				elog.FieldErr(err))
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
