//go:build unit

package message

import (
	"context"
	"testing"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"gitee.com/flycash/message-platform/internal/pkg/idgen"
	"gitee.com/flycash/message-platform/internal/repository"
	"gitee.com/flycash/message-platform/internal/repository/cache"
	"gitee.com/flycash/message-platform/internal/repository/cache/local"
	templatesvc "gitee.com/flycash/message-platform/internal/service/template"
	ca "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessageRepo 内存版消息仓储
type fakeMessageRepo struct {
	messages map[uint64]*domain.Message
	byKey    map[string]uint64
	// getMisses 大于0时 GetByIdempotencyKey 先返回未找到，用于模拟并发竞争
	getMisses int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[uint64]*domain.Message),
		byKey:    make(map[string]uint64),
	}
}

func (f *fakeMessageRepo) Create(_ context.Context, msg domain.Message) (domain.Message, error) {
	if msg.IdempotencyKey != "" {
		if _, ok := f.byKey[msg.IdempotencyKey]; ok {
			return domain.Message{}, errs.ErrMessageDuplicate
		}
		f.byKey[msg.IdempotencyKey] = msg.ID
	}
	msg.Version = 1
	f.messages[msg.ID] = &msg
	return msg, nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id uint64) (domain.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return domain.Message{}, errs.ErrMessageNotFound
	}
	return *m, nil
}

func (f *fakeMessageRepo) GetByIdempotencyKey(_ context.Context, key string) (domain.Message, error) {
	if f.getMisses > 0 {
		f.getMisses--
		return domain.Message{}, errs.ErrMessageNotFound
	}
	id, ok := f.byKey[key]
	if !ok {
		return domain.Message{}, errs.ErrMessageNotFound
	}
	return *f.messages[id], nil
}

func (f *fakeMessageRepo) Find(_ context.Context, _ repository.MessageQuery) ([]domain.Message, int64, error) {
	var res []domain.Message
	for _, m := range f.messages {
		res = append(res, *m)
	}
	return res, int64(len(res)), nil
}

func (f *fakeMessageRepo) MarkSending(_ context.Context, _ uint64, _ int) error { return nil }
func (f *fakeMessageRepo) MarkSuccess(_ context.Context, _ domain.Message) error {
	return nil
}
func (f *fakeMessageRepo) MarkRetrying(_ context.Context, _ domain.Message) error { return nil }
func (f *fakeMessageRepo) MarkFailed(_ context.Context, _ domain.Message) error   { return nil }

func (f *fakeMessageRepo) Requeue(_ context.Context, id uint64) (domain.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return domain.Message{}, errs.ErrMessageNotFound
	}
	if m.Status != domain.MessageStatusFailed {
		return domain.Message{}, errs.ErrRequeueNotAllowed
	}
	if m.RetryCount >= m.MaxRetry {
		m.RetryCount = 0
	}
	m.Status = domain.MessageStatusPending
	m.ErrorCode = ""
	m.ErrorMessage = ""
	m.Version++
	return *m, nil
}

func (f *fakeMessageRepo) FindTimeoutSending(_ context.Context, _ int64, _ int) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) FindStaleWaiting(_ context.Context, _ int64, _ int) ([]domain.Message, error) {
	return nil, nil
}

// fakeQueue 记录全部入队任务
type fakeQueue struct {
	tasks []delayqueue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task delayqueue.Task, _ time.Duration) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) Dequeue(_ context.Context) (delayqueue.Task, bool, error) {
	return delayqueue.Task{}, false, nil
}

// fakeTemplateService 只实现渲染，其余操作不会被消息服务调用
type fakeTemplateService struct {
	templatesvc.Service
	renderFunc func(code string, params map[string]string) (templatesvc.RenderResult, error)
}

func (f *fakeTemplateService) Render(_ context.Context, code string, params map[string]string) (templatesvc.RenderResult, error) {
	return f.renderFunc(code, params)
}

// errFingerprintCache 模拟缓存故障
type errFingerprintCache struct{}

func (errFingerprintCache) Set(context.Context, string, uint64, time.Duration) error {
	return errors.New("缓存不可用")
}

func (errFingerprintCache) Get(context.Context, string) (uint64, error) {
	return 0, errors.New("缓存不可用")
}

func (errFingerprintCache) Del(context.Context, string) error {
	return errors.New("缓存不可用")
}

type testEnv struct {
	repo  *fakeMessageRepo
	queue *fakeQueue
	svc   Service
}

func newTestEnv(t *testing.T, opts ...func(*fakeTemplateService)) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, local.NewFingerprintCache(ca.New(time.Hour, time.Hour)), opts...)
}

func newTestEnvWithCache(t *testing.T, fpCache cache.FingerprintCache, opts ...func(*fakeTemplateService)) *testEnv {
	t.Helper()
	repo := newFakeMessageRepo()
	queue := &fakeQueue{}
	tplSvc := &fakeTemplateService{
		renderFunc: func(string, map[string]string) (templatesvc.RenderResult, error) {
			return templatesvc.RenderResult{}, errs.ErrTemplateNotFound
		},
	}
	for _, opt := range opts {
		opt(tplSvc)
	}
	svc := NewService(repo, fpCache, tplSvc, idgen.NewGenerator(), queue)
	return &testEnv{repo: repo, queue: queue, svc: svc}
}

func directRequest() SendRequest {
	return SendRequest{
		Channel: domain.ChannelEmail,
		To:      []string{"a@example.com"},
		Subject: "S",
		Content: "C",
	}
}

func TestSendDirectContent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	caller := domain.NewServiceKeyActor(1)

	msg, err := env.svc.Send(t.Context(), caller, directRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.MessageStatusPending, msg.Status)
	assert.NotZero(t, msg.ID)
	assert.NotEmpty(t, msg.RequestID, "服务端生成request_id")
	assert.Equal(t, domain.ContentTypeHTML, msg.ContentType)
	assert.Equal(t, domain.DefaultMaxRetry, msg.MaxRetry)

	require.Len(t, env.queue.tasks, 1)
	assert.Equal(t, msg.ID, env.queue.tasks[0].MessageID)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	caller := domain.NewServiceKeyActor(1)

	t.Run("内容缺失", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		req := directRequest()
		req.Content = ""
		_, err := env.svc.Send(t.Context(), caller, req)
		assert.ErrorIs(t, err, errs.ErrMissingContent)
		assert.Empty(t, env.repo.messages)
	})

	t.Run("收件人缺失", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		req := directRequest()
		req.To = nil
		_, err := env.svc.Send(t.Context(), caller, req)
		assert.ErrorIs(t, err, errs.ErrInvalidParameter)
	})

	t.Run("直接内容与模板互斥", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		req := directRequest()
		req.TemplateCode = "welcome"
		_, err := env.svc.Send(t.Context(), caller, req)
		assert.ErrorIs(t, err, errs.ErrInvalidParameter)
	})
}

func TestSendWithTemplate(t *testing.T) {
	t.Parallel()
	caller := domain.NewServiceKeyActor(1)

	t.Run("模板渲染成功", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(f *fakeTemplateService) {
			f.renderFunc = func(code string, params map[string]string) (templatesvc.RenderResult, error) {
				return templatesvc.RenderResult{
					TemplateID:      7,
					TemplateVersion: 3,
					Subject:         "欢迎 " + params["name"],
					Content:         "你好 " + params["name"],
				}, nil
			}
		})

		req := directRequest()
		req.Subject, req.Content = "", ""
		req.TemplateCode = "welcome"
		req.TemplateParams = map[string]string{"name": "张三"}

		msg, err := env.svc.Send(t.Context(), caller, req)
		require.NoError(t, err)
		assert.Equal(t, "欢迎 张三", msg.Subject)
		assert.Equal(t, "你好 张三", msg.Content)
		assert.Equal(t, int64(7), msg.TemplateID)
		assert.Equal(t, int32(3), msg.TemplateVersion)
	})

	t.Run("渲染失败不落库", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(f *fakeTemplateService) {
			f.renderFunc = func(string, map[string]string) (templatesvc.RenderResult, error) {
				return templatesvc.RenderResult{}, errs.ErrTemplateVariableUndefined
			}
		})

		req := directRequest()
		req.Content = ""
		req.TemplateCode = "welcome"

		_, err := env.svc.Send(t.Context(), caller, req)
		assert.ErrorIs(t, err, errs.ErrTemplateVariableUndefined)
		assert.Empty(t, env.repo.messages)
		assert.Empty(t, env.queue.tasks)
	})
}

func TestSendIdempotencyKey(t *testing.T) {
	t.Parallel()
	caller := domain.NewServiceKeyActor(1)

	t.Run("相同幂等键返回同一消息", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := t.Context()

		req := directRequest()
		req.IdempotencyKey = "k1"

		first, err := env.svc.Send(ctx, caller, req)
		require.NoError(t, err)

		second, err := env.svc.Send(ctx, caller, req)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, env.repo.messages, 1)
		assert.Len(t, env.queue.tasks, 1, "重复提交不再入队")
	})

	t.Run("并发竞争时唯一索引兜底", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := t.Context()

		req := directRequest()
		req.IdempotencyKey = "k2"

		first, err := env.svc.Send(ctx, caller, req)
		require.NoError(t, err)

		// 模拟另一请求的预检查发生在first落库之前：
		// 预检查未命中，Create 撞唯一索引，按去重命中处理
		env.repo.getMisses = 1
		second, err := env.svc.Send(ctx, caller, req)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, env.repo.messages, 1)
	})
}

func TestSendFingerprint(t *testing.T) {
	t.Parallel()
	caller := domain.NewServiceKeyActor(1)

	t.Run("窗口内相同内容去重", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := t.Context()

		first, err := env.svc.Send(ctx, caller, directRequest())
		require.NoError(t, err)

		second, err := env.svc.Send(ctx, caller, directRequest())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, env.repo.messages, 1)
	})

	t.Run("内容不同不去重", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := t.Context()

		first, err := env.svc.Send(ctx, caller, directRequest())
		require.NoError(t, err)

		req := directRequest()
		req.Content = "别的内容"
		second, err := env.svc.Send(ctx, caller, req)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Len(t, env.repo.messages, 2)
	})

	t.Run("缓存故障不阻断准入", func(t *testing.T) {
		t.Parallel()
		env := newTestEnvWithCache(t, errFingerprintCache{})

		msg, err := env.svc.Send(t.Context(), caller, directRequest())
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Len(t, env.repo.messages, 1)
	})
}

func TestListPermission(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, _, err := env.svc.List(t.Context(), domain.NewServiceKeyActor(1), repository.MessageQuery{})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, _, err = env.svc.List(t.Context(), domain.NewAdminActor(1), repository.MessageQuery{})
	assert.NoError(t, err)
}

func TestRequeue(t *testing.T) {
	t.Parallel()
	admin := domain.NewAdminActor(1)

	t.Run("失败消息重新入队并清零重试计数", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := t.Context()

		env.repo.messages[1] = &domain.Message{
			ID:         1,
			Status:     domain.MessageStatusFailed,
			RetryCount: 3,
			MaxRetry:   3,
			ErrorCode:  domain.ErrorCodeMaxRetriesExceeded,
		}

		msg, err := env.svc.Requeue(ctx, admin, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.MessageStatusPending, msg.Status)
		assert.Equal(t, int32(0), msg.RetryCount)
		assert.Empty(t, msg.ErrorCode)
		require.Len(t, env.queue.tasks, 1)
	})

	t.Run("非失败状态拒绝", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		env.repo.messages[1] = &domain.Message{ID: 1, Status: domain.MessageStatusSuccess}

		_, err := env.svc.Requeue(t.Context(), admin, 1)
		assert.ErrorIs(t, err, errs.ErrRequeueNotAllowed)
	})

	t.Run("非管理员拒绝", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		_, err := env.svc.Requeue(t.Context(), domain.NewServiceKeyActor(2), 1)
		assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	})
}
