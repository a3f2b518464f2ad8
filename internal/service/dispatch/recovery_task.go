package dispatch

import (
	"context"
	"time"

	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"gitee.com/flycash/message-platform/internal/pkg/loopjob"
	"gitee.com/flycash/message-platform/internal/repository"
	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
	"github.com/pkg/errors"
)

const (
	// sendingTimeout 超过该时长仍停留在 SENDING 视为工作协程崩溃
	sendingTimeout = 3 * time.Minute
	// staleWaitingTimeout 超过该时长仍停留在 PENDING/RETRYING 视为入队丢失。
	// 必须大于最大退避间隔，否则会把正常等待中的消息提前入队
	staleWaitingTimeout = 15 * time.Minute
)

// RecoveryTask 投递补偿任务，修复两类调度缺口：
// 卡在 SENDING 的消息按一次失败尝试处理，长时间待调度的消息重新入队。
// 通过分布式锁保证同一时刻只有一个实例在执行
type RecoveryTask struct {
	dclient    dlock.Client
	repo       repository.MessageRepository
	dispatcher *Dispatcher
	queue      delayqueue.Queue
	logger     *elog.Component
}

func NewRecoveryTask(
	dclient dlock.Client,
	repo repository.MessageRepository,
	dispatcher *Dispatcher,
	queue delayqueue.Queue,
) *RecoveryTask {
	return &RecoveryTask{
		dclient:    dclient,
		repo:       repo,
		dispatcher: dispatcher,
		queue:      queue,
		logger:     elog.DefaultLogger,
	}
}

func (t *RecoveryTask) Start(ctx context.Context) {
	const key = "message_dispatch_recovery"
	lj := loopjob.NewInfiniteLoop(t.dclient, t.recoverOnce, key)
	lj.Run(ctx)
}

func (t *RecoveryTask) recoverOnce(ctx context.Context) error {
	const batchSize = 10
	const defaultSleepTime = time.Second * 10

	timeoutCnt, err := t.recoverTimeoutSending(ctx, batchSize)
	if err != nil {
		return err
	}
	staleCnt, err := t.requeueStaleWaiting(ctx, batchSize)
	if err != nil {
		return err
	}

	// 积压不多，可以休息一下
	if timeoutCnt < batchSize && staleCnt < batchSize {
		time.Sleep(defaultSleepTime)
	}
	return nil
}

// recoverTimeoutSending 把发送超时当作一次失败尝试走状态机，
// 预算未耗尽则退避重试，否则进入终态
func (t *RecoveryTask) recoverTimeoutSending(ctx context.Context, batchSize int) (int, error) {
	deadline := time.Now().Add(-sendingTimeout).UnixMilli()
	msgs, err := t.repo.FindTimeoutSending(ctx, deadline, batchSize)
	if err != nil {
		return 0, err
	}
	for i := range msgs {
		err := t.dispatcher.HandleAttemptFailure(ctx, msgs[i], errors.New("发送超时，工作协程可能已崩溃"))
		if err != nil {
			t.logger.Warn("超时消息恢复失败", elog.FieldErr(err), elog.Any("messageID", msgs[i].ID))
		}
	}
	return len(msgs), nil
}

func (t *RecoveryTask) requeueStaleWaiting(ctx context.Context, batchSize int) (int, error) {
	deadline := time.Now().Add(-staleWaitingTimeout).UnixMilli()
	msgs, err := t.repo.FindStaleWaiting(ctx, deadline, batchSize)
	if err != nil {
		return 0, err
	}
	for i := range msgs {
		err := t.queue.Enqueue(ctx, delayqueue.Task{
			MessageID:     msgs[i].ID,
			DeliveryCount: msgs[i].RetryCount,
		}, 0)
		if err != nil {
			t.logger.Warn("补偿入队失败", elog.FieldErr(err), elog.Any("messageID", msgs[i].ID))
		}
	}
	return len(msgs), nil
}
