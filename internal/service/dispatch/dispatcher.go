package dispatch

import (
	"context"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"gitee.com/flycash/message-platform/internal/pkg/retry"
	"gitee.com/flycash/message-platform/internal/repository"
	"gitee.com/flycash/message-platform/internal/service/email"
	"gitee.com/flycash/message-platform/internal/service/pool"
	"github.com/gotomicro/ego/core/elog"
	"github.com/pkg/errors"
)

// Dispatcher 消息投递状态机。
// 每次 Dispatch 执行至多一次发送尝试，状态转换全部通过乐观锁CAS提交，
// 任务队列按至少一次投递，同一消息的重复任务靠CAS与终态检查收敛
type Dispatcher struct {
	repo     repository.MessageRepository
	pool     pool.Service
	client   email.Client
	strategy retry.Strategy
	queue    delayqueue.Queue
	logger   *elog.Component
}

// NewDispatcher 创建投递状态机实例
func NewDispatcher(
	repo repository.MessageRepository,
	poolSvc pool.Service,
	client email.Client,
	strategy retry.Strategy,
	queue delayqueue.Queue,
) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		pool:     poolSvc,
		client:   client,
		strategy: strategy,
		queue:    queue,
		logger:   elog.DefaultLogger,
	}
}

// Dispatch 执行一次发送尝试
func (d *Dispatcher) Dispatch(ctx context.Context, id uint64) error {
	msg, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrMessageNotFound) {
			// 记录已被外部管理操作删除，任务作废
			return nil
		}
		return err
	}

	// 重复投递的任务：终态消息直接丢弃
	if msg.Status.IsTerminal() {
		return nil
	}
	// 另一个工作协程正在发送
	if msg.Status == domain.MessageStatusSending {
		return nil
	}

	// 占据本次尝试，竞争失败说明别的实例先拿到了
	if err := d.repo.MarkSending(ctx, msg.ID, msg.Version); err != nil {
		if errors.Is(err, errs.ErrMessageVersionMismatch) {
			return nil
		}
		return err
	}
	msg.Status = domain.MessageStatusSending
	msg.Version++

	account, sendErr := d.attempt(ctx, &msg)
	if sendErr == nil {
		msg.Sender = account.Email
		msg.SentAt = time.Now().UnixMilli()
		if err := d.repo.MarkSuccess(ctx, msg); err != nil {
			return err
		}
		if err := d.pool.RecordSuccess(ctx, account.ID); err != nil {
			d.logger.Warn("账号成功反馈写入失败", elog.FieldErr(err), elog.Int64("accountID", account.ID))
		}
		return nil
	}

	if account.ID > 0 {
		// 尝试超时后 ctx 已到期，失败反馈同样要脱离尝试上下文
		fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		if err := d.pool.RecordFailure(fbCtx, account.ID); err != nil {
			d.logger.Warn("账号失败反馈写入失败", elog.FieldErr(err), elog.Int64("accountID", account.ID))
		}
		cancel()
	}
	return d.HandleAttemptFailure(ctx, msg, sendErr)
}

// attempt 选账号、取凭证、发送。任何一步失败都按可重试处理
func (d *Dispatcher) attempt(ctx context.Context, msg *domain.Message) (domain.EmailAccount, error) {
	account, err := d.pool.Acquire(ctx)
	if err != nil {
		// 账号池耗尽同样走退避重试，等待配额清零或账号恢复
		return domain.EmailAccount{}, err
	}

	password, err := d.pool.Credential(ctx, account.ID)
	if err != nil {
		return account, err
	}

	if err := d.client.Send(ctx, account, password, *msg); err != nil {
		return account, err
	}
	return account, nil
}

const commitTimeout = 10 * time.Second

// HandleAttemptFailure 提交一次失败：预算未耗尽则退避重试，否则进入终态。
// msg 的 Status 必须为 SENDING，Version 为占据本次尝试后的版本。
// 失败本身可能就是尝试超时，所以状态提交要脱离已到期的尝试上下文，
// 否则消息会卡在 SENDING 等补偿任务兜底
func (d *Dispatcher) HandleAttemptFailure(ctx context.Context, msg domain.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	now := time.Now()
	entry := domain.RetryLog{
		Attempt:   msg.RetryCount + 1,
		Error:     cause.Error(),
		Timestamp: now.UnixMilli(),
	}

	if msg.RetryCount >= msg.MaxRetry {
		// 重试预算耗尽，进入终态
		msg.RetryLogs = append(msg.RetryLogs, entry)
		msg.ErrorCode = domain.ErrorCodeMaxRetriesExceeded
		msg.ErrorMessage = cause.Error()
		if err := d.repo.MarkFailed(ctx, msg); err != nil {
			return err
		}
		d.logger.Error("消息重试预算耗尽",
			elog.Any("messageID", msg.ID),
			elog.Int32("retryCount", msg.RetryCount),
			elog.FieldErr(cause))
		return nil
	}

	msg.RetryCount++
	next, _ := d.strategy.NextRetryTime(msg.RetryCount)
	entry.NextRetryTime = next.UnixMilli()
	msg.RetryLogs = append(msg.RetryLogs, entry)
	msg.ErrorMessage = cause.Error()

	if err := d.repo.MarkRetrying(ctx, msg); err != nil {
		return err
	}
	err := d.queue.Enqueue(ctx, delayqueue.Task{
		MessageID:     msg.ID,
		DeliveryCount: msg.RetryCount,
	}, time.Until(next))
	if err != nil {
		// 状态已提交为 RETRYING，入队丢失由补偿任务兜底
		d.logger.Warn("重试任务入队失败，等待补偿任务", elog.FieldErr(err), elog.Any("messageID", msg.ID))
	}
	return nil
}
