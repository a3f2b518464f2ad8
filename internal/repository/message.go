package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// MessageQuery 消息列表查询条件
type MessageQuery struct {
	Channel   domain.Channel
	Status    domain.MessageStatus
	To        string // 模糊匹配
	RequestID string
	StartTime int64
	EndTime   int64
	Offset    int
	Limit     int
}

// MessageRepository 消息记录仓储接口
type MessageRepository interface {
	Create(ctx context.Context, msg domain.Message) (domain.Message, error)

	GetByID(ctx context.Context, id uint64) (domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, key string) (domain.Message, error)
	Find(ctx context.Context, query MessageQuery) ([]domain.Message, int64, error)

	// MarkSending 占据一次发送尝试，PENDING/RETRYING -> SENDING
	MarkSending(ctx context.Context, id uint64, version int) error
	MarkSuccess(ctx context.Context, msg domain.Message) error
	MarkRetrying(ctx context.Context, msg domain.Message) error
	MarkFailed(ctx context.Context, msg domain.Message) error

	Requeue(ctx context.Context, id uint64) (domain.Message, error)

	FindTimeoutSending(ctx context.Context, utime int64, limit int) ([]domain.Message, error)
	FindStaleWaiting(ctx context.Context, utime int64, limit int) ([]domain.Message, error)
}

type messageRepository struct {
	dao dao.MessageDAO
}

// NewMessageRepository 创建仓储实例
func NewMessageRepository(d dao.MessageDAO) MessageRepository {
	return &messageRepository{
		dao: d,
	}
}

func (r *messageRepository) Create(ctx context.Context, msg domain.Message) (domain.Message, error) {
	created, err := r.dao.Create(ctx, r.toEntity(msg))
	if err != nil {
		return domain.Message{}, err
	}
	return r.toDomain(created), nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint64) (domain.Message, error) {
	msg, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	return r.toDomain(msg), nil
}

func (r *messageRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Message, error) {
	msg, err := r.dao.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return domain.Message{}, err
	}
	return r.toDomain(msg), nil
}

func (r *messageRepository) Find(ctx context.Context, query MessageQuery) ([]domain.Message, int64, error) {
	msgs, total, err := r.dao.Find(ctx, dao.MessageQuery{
		Channel:   query.Channel.String(),
		Status:    query.Status.String(),
		To:        query.To,
		RequestID: query.RequestID,
		StartTime: query.StartTime,
		EndTime:   query.EndTime,
		Offset:    query.Offset,
		Limit:     query.Limit,
	})
	if err != nil {
		return nil, 0, err
	}
	return slice.Map(msgs, func(_ int, src dao.Message) domain.Message {
		return r.toDomain(src)
	}), total, nil
}

func (r *messageRepository) MarkSending(ctx context.Context, id uint64, version int) error {
	return r.dao.MarkSending(ctx, id, version)
}

func (r *messageRepository) MarkSuccess(ctx context.Context, msg domain.Message) error {
	return r.dao.MarkSuccess(ctx, r.toEntity(msg))
}

func (r *messageRepository) MarkRetrying(ctx context.Context, msg domain.Message) error {
	return r.dao.MarkRetrying(ctx, r.toEntity(msg))
}

func (r *messageRepository) MarkFailed(ctx context.Context, msg domain.Message) error {
	return r.dao.MarkFailed(ctx, r.toEntity(msg))
}

func (r *messageRepository) Requeue(ctx context.Context, id uint64) (domain.Message, error) {
	msg, err := r.dao.Requeue(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	return r.toDomain(msg), nil
}

func (r *messageRepository) FindTimeoutSending(ctx context.Context, utime int64, limit int) ([]domain.Message, error) {
	msgs, err := r.dao.FindTimeoutSending(ctx, utime, limit)
	if err != nil {
		return nil, err
	}
	return slice.Map(msgs, func(_ int, src dao.Message) domain.Message {
		return r.toDomain(src)
	}), nil
}

func (r *messageRepository) FindStaleWaiting(ctx context.Context, utime int64, limit int) ([]domain.Message, error) {
	msgs, err := r.dao.FindStaleWaiting(ctx, utime, limit)
	if err != nil {
		return nil, err
	}
	return slice.Map(msgs, func(_ int, src dao.Message) domain.Message {
		return r.toDomain(src)
	}), nil
}

func (r *messageRepository) toEntity(msg domain.Message) dao.Message {
	var params string
	if len(msg.TemplateParams) > 0 {
		b, _ := json.Marshal(msg.TemplateParams)
		params = string(b)
	}
	return dao.Message{
		ID: msg.ID,
		IdempotencyKey: sql.NullString{
			String: msg.IdempotencyKey,
			Valid:  msg.IdempotencyKey != "",
		},
		RequestID:       msg.RequestID,
		Channel:         msg.Channel.String(),
		Status:          msg.Status.String(),
		To:              strings.Join(msg.To, ","),
		Cc:              strings.Join(msg.Cc, ","),
		Bcc:             strings.Join(msg.Bcc, ","),
		Subject:         msg.Subject,
		Content:         msg.Content,
		ContentType:     msg.ContentType.String(),
		TemplateID:      msg.TemplateID,
		TemplateVersion: msg.TemplateVersion,
		TemplateParams:  params,
		Sender:          msg.Sender,
		SentAt:          msg.SentAt,
		RetryCount:      msg.RetryCount,
		MaxRetry:        msg.MaxRetry,
		RetryLogs: slice.Map(msg.RetryLogs, func(_ int, src domain.RetryLog) dao.RetryLogEntry {
			return dao.RetryLogEntry{
				Attempt:       src.Attempt,
				Error:         src.Error,
				Timestamp:     src.Timestamp,
				NextRetryTime: src.NextRetryTime,
			}
		}),
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		Version:      msg.Version,
		Ctime:        msg.Ctime,
		Utime:        msg.Utime,
	}
}

func (r *messageRepository) toDomain(msg dao.Message) domain.Message {
	var params map[string]string
	if msg.TemplateParams != "" {
		_ = json.Unmarshal([]byte(msg.TemplateParams), &params)
	}
	return domain.Message{
		ID:              msg.ID,
		IdempotencyKey:  msg.IdempotencyKey.String,
		RequestID:       msg.RequestID,
		Channel:         domain.Channel(msg.Channel),
		Status:          domain.MessageStatus(msg.Status),
		To:              splitRecipients(msg.To),
		Cc:              splitRecipients(msg.Cc),
		Bcc:             splitRecipients(msg.Bcc),
		Subject:         msg.Subject,
		Content:         msg.Content,
		ContentType:     domain.ContentType(msg.ContentType),
		TemplateID:      msg.TemplateID,
		TemplateVersion: msg.TemplateVersion,
		TemplateParams:  params,
		Sender:          msg.Sender,
		SentAt:          msg.SentAt,
		RetryCount:      msg.RetryCount,
		MaxRetry:        msg.MaxRetry,
		RetryLogs: slice.Map(msg.RetryLogs, func(_ int, src dao.RetryLogEntry) domain.RetryLog {
			return domain.RetryLog{
				Attempt:       src.Attempt,
				Error:         src.Error,
				Timestamp:     src.Timestamp,
				NextRetryTime: src.NextRetryTime,
			}
		}),
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		Version:      msg.Version,
		Ctime:        msg.Ctime,
		Utime:        msg.Utime,
	}
}

func splitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
