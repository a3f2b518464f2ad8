package message

import (
	"context"
	"fmt"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"gitee.com/flycash/message-platform/internal/pkg/delayqueue"
	"gitee.com/flycash/message-platform/internal/pkg/idgen"
	"gitee.com/flycash/message-platform/internal/repository"
	"gitee.com/flycash/message-platform/internal/repository/cache"
	templatesvc "gitee.com/flycash/message-platform/internal/service/template"
	"github.com/gofrs/uuid"
	"github.com/gotomicro/ego/core/elog"
	"github.com/pkg/errors"
)

// SendRequest 消息发送请求。
// 直接内容与模板引用二选一，不能同时提供
type SendRequest struct {
	IdempotencyKey string
	RequestID      string
	Channel        domain.Channel

	To  []string
	Cc  []string
	Bcc []string

	Subject     string
	Content     string
	ContentType domain.ContentType

	TemplateCode   string
	TemplateParams map[string]string

	MaxRetry int32
}

// Service 消息准入与查询服务
type Service interface {
	// Send 准入一条消息：校验、渲染、去重、落库、入队。
	// 命中幂等键或内容指纹时返回已有消息，不报错
	Send(ctx context.Context, actor domain.Actor, req SendRequest) (domain.Message, error)

	GetByID(ctx context.Context, id uint64) (domain.Message, error)
	// List 按条件分页查询，仅管理员
	List(ctx context.Context, actor domain.Actor, query repository.MessageQuery) ([]domain.Message, int64, error)
	// Requeue 将失败消息重新入队，仅管理员。重试预算已耗尽时清零计数
	Requeue(ctx context.Context, actor domain.Actor, id uint64) (domain.Message, error)
}

type service struct {
	repo        repository.MessageRepository
	fpCache     cache.FingerprintCache
	templateSvc templatesvc.Service
	idGen       *idgen.Generator
	queue       delayqueue.Queue
	logger      *elog.Component
}

// NewService 创建消息服务实例
func NewService(
	repo repository.MessageRepository,
	fpCache cache.FingerprintCache,
	templateSvc templatesvc.Service,
	idGen *idgen.Generator,
	queue delayqueue.Queue,
) Service {
	return &service{
		repo:        repo,
		fpCache:     fpCache,
		templateSvc: templateSvc,
		idGen:       idGen,
		queue:       queue,
		logger:      elog.DefaultLogger,
	}
}

func (s *service) Send(ctx context.Context, _ domain.Actor, req SendRequest) (domain.Message, error) {
	msg, err := s.buildMessage(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}

	// 幂等键精确去重：已存在直接返回，不创建第二条
	if msg.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, msg.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, errs.ErrMessageNotFound) {
			return domain.Message{}, err
		}
	}

	// 内容指纹去重：时间窗口内的参考信号，缓存不可用不阻断准入
	fingerprint := msg.Fingerprint()
	if id, err := s.fpCache.Get(ctx, fingerprint); err == nil {
		existing, err := s.repo.GetByID(ctx, id)
		if err == nil {
			return existing, nil
		}
	} else if !errors.Is(err, cache.ErrKeyNotFound) {
		s.logger.Warn("指纹查询失败，跳过内容去重", elog.FieldErr(err))
	}

	id, err := s.idGen.NextID()
	if err != nil {
		return domain.Message{}, err
	}
	msg.ID = id
	msg.Status = domain.MessageStatusPending

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		// 并发提交同一幂等键：唯一索引兜底，按去重命中处理
		if errors.Is(err, errs.ErrMessageDuplicate) && msg.IdempotencyKey != "" {
			return s.repo.GetByIdempotencyKey(ctx, msg.IdempotencyKey)
		}
		return domain.Message{}, err
	}

	if err := s.fpCache.Set(ctx, fingerprint, created.ID, cache.DefaultFingerprintTTL); err != nil {
		s.logger.Warn("指纹写入失败", elog.FieldErr(err), elog.Any("messageID", created.ID))
	}

	// 入队失败不回滚消息，补偿任务会重新入队长时间停留在 PENDING 的消息
	if err := s.queue.Enqueue(ctx, delayqueue.Task{MessageID: created.ID}, 0); err != nil {
		s.logger.Warn("消息入队失败，等待补偿任务", elog.FieldErr(err), elog.Any("messageID", created.ID))
	}
	return created, nil
}

func (s *service) buildMessage(ctx context.Context, req SendRequest) (domain.Message, error) {
	msg := domain.Message{
		IdempotencyKey: req.IdempotencyKey,
		RequestID:      req.RequestID,
		Channel:        req.Channel,
		To:             req.To,
		Cc:             req.Cc,
		Bcc:            req.Bcc,
		Subject:        req.Subject,
		Content:        req.Content,
		ContentType:    req.ContentType,
		TemplateParams: req.TemplateParams,
		MaxRetry:       req.MaxRetry,
	}

	if req.TemplateCode != "" {
		if req.Content != "" {
			return domain.Message{}, fmt.Errorf("%w: 直接内容与模板引用不能同时提供", errs.ErrInvalidParameter)
		}
		res, err := s.templateSvc.Render(ctx, req.TemplateCode, req.TemplateParams)
		if err != nil {
			return domain.Message{}, err
		}
		msg.Subject = res.Subject
		msg.Content = res.Content
		msg.TemplateID = res.TemplateID
		msg.TemplateVersion = res.TemplateVersion
	}

	if msg.RequestID == "" {
		msg.RequestID = uuid.Must(uuid.NewV4()).String()
	}
	if msg.ContentType == "" {
		msg.ContentType = domain.ContentTypeHTML
	}
	if msg.MaxRetry <= 0 {
		msg.MaxRetry = domain.DefaultMaxRetry
	}

	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

func (s *service) GetByID(ctx context.Context, id uint64) (domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, actor domain.Actor, query repository.MessageQuery) ([]domain.Message, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.Find(ctx, query)
}

func (s *service) Requeue(ctx context.Context, actor domain.Actor, id uint64) (domain.Message, error) {
	if !actor.IsAdmin() {
		return domain.Message{}, fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	msg, err := s.repo.Requeue(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.queue.Enqueue(ctx, delayqueue.Task{MessageID: msg.ID}, 0); err != nil {
		s.logger.Warn("消息入队失败，等待补偿任务", elog.FieldErr(err), elog.Any("messageID", msg.ID))
	}
	return msg, nil
}
