package pool

import (
	"context"
	"time"

	"github.com/gotomicro/ego/core/elog"
)

// DailyResetCron 每日配额清零任务，由 ecron 在每天零点触发。
// 清零操作本身幂等，多实例重复执行不会多清
type DailyResetCron struct {
	svc    Service
	logger *elog.Component
}

func NewDailyResetCron(svc Service) *DailyResetCron {
	return &DailyResetCron{
		svc:    svc,
		logger: elog.DefaultLogger,
	}
}

func (t *DailyResetCron) Do(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	cnt, err := t.svc.ResetDailyCounts(ctx)
	if err != nil {
		t.logger.Error("每日配额清零失败", elog.FieldErr(err))
		return err
	}
	t.logger.Info("每日配额清零完成", elog.Int64("affected", cnt))
	return nil
}
