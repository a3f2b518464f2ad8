package ioc

import (
	"context"

	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"gitee.com/flycash/message-platform/internal/pkg/idgen"
	"gitee.com/flycash/message-platform/internal/pkg/retry"
	"gitee.com/flycash/message-platform/internal/repository"
	rediscache "gitee.com/flycash/message-platform/internal/repository/cache/redis"
	"gitee.com/flycash/message-platform/internal/repository/dao"
	"gitee.com/flycash/message-platform/internal/service/dispatch"
	"gitee.com/flycash/message-platform/internal/service/email"
	emailmetrics "gitee.com/flycash/message-platform/internal/service/email/metrics"
	messagesvc "gitee.com/flycash/message-platform/internal/service/message"
	"gitee.com/flycash/message-platform/internal/service/pool"
	templatesvc "gitee.com/flycash/message-platform/internal/service/template"
	"github.com/gotomicro/ego/core/econf"
	"github.com/gotomicro/ego/core/elog"
	"github.com/gotomicro/ego/task/ecron"
	"github.com/pkg/errors"
)

// 默认重试策略：60s起步指数退避，上限600s，带20%抖动
const defaultRetryConfig = `{"type":"exponential","initialInterval":60000,"maxInterval":600000,"jitter":0.2}`

// App 组装完成的应用
type App struct {
	MessageSvc  messagesvc.Service
	TemplateSvc templatesvc.Service
	PoolSvc     pool.Service

	Scheduler *dispatch.Scheduler
	Tasks     []Task
	Crons     []ecron.Ecron
}

// InitApp 手工装配全部组件，依赖关系一目了然
func InitApp() *App {
	db := InitDB()
	if err := InitTables(db); err != nil {
		panic(err)
	}
	rdb := InitRedisClient()
	dclient := InitDlockClient(rdb)

	encryptKey := econf.GetString("account.encryptKey")

	messageDAO := dao.NewMessageDAO(db)
	templateDAO := dao.NewTemplateDAO(db)
	accountDAO := dao.NewAccountDAO(db, encryptKey)

	messageRepo := repository.NewMessageRepository(messageDAO)
	templateRepo := repository.NewTemplateRepository(templateDAO)
	accountRepo := repository.NewAccountRepository(accountDAO)

	fpCache := rediscache.NewFingerprintCache(rdb)
	queue := delayqueue.NewRedisQueue(rdb)

	templateSvc := templatesvc.NewService(templateRepo)
	poolSvc := pool.NewService(accountRepo)
	messageSvc := messagesvc.NewService(messageRepo, fpCache, templateSvc, idgen.NewGenerator(), queue)

	retryCfg := econf.GetString("dispatch.retryStrategy")
	if retryCfg == "" {
		retryCfg = defaultRetryConfig
	}
	strategy, err := retry.NewDefaultBuilder().Build(retryCfg)
	if err != nil {
		panic(err)
	}

	emailClient := emailmetrics.NewClient(email.NewClient())
	dispatcher := dispatch.NewDispatcher(messageRepo, poolSvc, emailClient, strategy, queue)

	var schedCfg dispatch.SchedulerConfig
	if err := econf.UnmarshalKey("dispatch.scheduler", &schedCfg); err != nil {
		elog.DefaultLogger.Warn("调度器配置解析失败，使用默认值", elog.FieldErr(err))
	}
	scheduler := dispatch.NewScheduler(queue, dispatcher, schedCfg)

	recovery := dispatch.NewRecoveryTask(dclient, messageRepo, dispatcher, queue)
	resetCron := pool.NewDailyResetCron(poolSvc)

	return &App{
		MessageSvc:  messageSvc,
		TemplateSvc: templateSvc,
		PoolSvc:     poolSvc,
		Scheduler:   scheduler,
		Tasks:       []Task{recovery},
		Crons:       Crons(resetCron),
	}
}

// StartTasks 启动调度器与全部后台任务
func (a *App) StartTasks(ctx context.Context) {
	for _, t := range a.Tasks {
		go func(t Task) {
			t.Start(ctx)
		}(t)
	}
	go func() {
		if err := a.Scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			elog.DefaultLogger.Error("调度器退出", elog.FieldErr(err))
		}
	}()
}

// Crons 注册定时任务，cron表达式从配置读取
func Crons(reset *pool.DailyResetCron) []ecron.Ecron {
	c := ecron.Load("cron.dailyReset").Build(ecron.WithJob(reset.Do))
	return []ecron.Ecron{c}
}
