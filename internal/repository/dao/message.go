package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/ego-component/egorm"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type MessageDAO interface {
	// Create 创建单条消息记录，幂等键冲突返回 errs.ErrMessageDuplicate
	Create(ctx context.Context, data Message) (Message, error)

	// GetByID 根据ID查询消息
	GetByID(ctx context.Context, id uint64) (Message, error)
	// GetByIdempotencyKey 根据幂等键查询消息
	GetByIdempotencyKey(ctx context.Context, key string) (Message, error)
	// Find 按条件分页查询
	Find(ctx context.Context, query MessageQuery) ([]Message, int64, error)

	// MarkSending 占据一次发送尝试，PENDING/RETRYING -> SENDING，使用乐观锁控制并发
	MarkSending(ctx context.Context, id uint64, version int) error
	// MarkSuccess 发送成功，记录发信账号与发送时间
	MarkSuccess(ctx context.Context, data Message) error
	// MarkRetrying 记录一次失败并等待重试，追加重试日志
	MarkRetrying(ctx context.Context, data Message) error
	// MarkFailed 进入终态失败
	MarkFailed(ctx context.Context, data Message) error

	// Requeue 管理员将失败消息重新置为待发送，仅 FAILED 状态允许
	Requeue(ctx context.Context, id uint64) (Message, error)

	// FindTimeoutSending 查找卡在 SENDING 超过期限的消息
	FindTimeoutSending(ctx context.Context, utime int64, limit int) ([]Message, error)
	// FindStaleWaiting 查找长时间停留在 PENDING/RETRYING 的消息，用于补偿入队。
	// 入队丢失时由该查询兜底，阈值须大于最大退避间隔
	FindStaleWaiting(ctx context.Context, utime int64, limit int) ([]Message, error)
}

// MessageQuery 消息列表查询条件
type MessageQuery struct {
	Channel   string
	Status    string
	To        string // 模糊匹配
	RequestID string
	StartTime int64 // 创建时间下界（毫秒），0表示不限
	EndTime   int64 // 创建时间上界（毫秒），0表示不限
	Offset    int
	Limit     int
}

// Message 消息记录表
type Message struct {
	ID             uint64         `gorm:"primaryKey;comment:'雪花算法ID'"`
	IdempotencyKey sql.NullString `gorm:"type:VARCHAR(100);uniqueIndex:idx_idempotency_key;comment:'幂等键，可空，非空全局唯一'"`
	RequestID      string         `gorm:"type:VARCHAR(100);NOT NULL;index:idx_request_id;comment:'请求ID，链路追踪'"`
	Channel        string         `gorm:"type:ENUM('email','sms','wechat','wechat_official');NOT NULL;index:idx_channel;comment:'发送渠道'"`
	Status         string         `gorm:"type:ENUM('PENDING','SENDING','SUCCESS','FAILED','RETRYING');NOT NULL;DEFAULT:'PENDING';index:idx_status;comment:'发送状态'"`

	To  string `gorm:"column:to;type:VARCHAR(500);NOT NULL;comment:'接收者，逗号分隔'"`
	Cc  string `gorm:"column:cc;type:VARCHAR(1000);comment:'抄送，仅邮件'"`
	Bcc string `gorm:"column:bcc;type:VARCHAR(1000);comment:'密送，仅邮件'"`

	Subject     string `gorm:"type:VARCHAR(500);comment:'主题'"`
	Content     string `gorm:"type:TEXT;NOT NULL;comment:'已渲染的消息内容'"`
	ContentType string `gorm:"type:VARCHAR(50);NOT NULL;DEFAULT:'html';comment:'内容类型: html/text/markdown'"`

	TemplateID      int64  `gorm:"type:BIGINT;comment:'模板ID，0表示直接内容'"`
	TemplateVersion int32  `gorm:"type:INT;comment:'渲染时的模板版本'"`
	TemplateParams  string `gorm:"type:TEXT;comment:'模板参数，JSON'"`

	Sender string `gorm:"type:VARCHAR(200);comment:'实际发信账号'"`
	SentAt int64  `gorm:"comment:'实际发送时间（毫秒）'"`

	RetryCount int32     `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'当前重试次数'"`
	MaxRetry   int32     `gorm:"type:INT;NOT NULL;DEFAULT:3;comment:'最大重试次数'"`
	RetryLogs  RetryLogs `gorm:"type:TEXT;comment:'重试日志，JSON数组，只追加'"`

	ErrorCode    string `gorm:"type:VARCHAR(50);comment:'错误码'"`
	ErrorMessage string `gorm:"type:TEXT;comment:'错误信息'"`

	Version int `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'版本号，用于CAS操作'"`
	Ctime   int64
	Utime   int64
}

// TableName 重命名表
func (Message) TableName() string {
	return "message_records"
}

type messageDAO struct {
	db *egorm.Component
}

// NewMessageDAO 创建消息DAO实例
func NewMessageDAO(db *egorm.Component) MessageDAO {
	return &messageDAO{
		db: db,
	}
}

func (d *messageDAO) Create(ctx context.Context, data Message) (Message, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	data.Version = 1
	if err := d.db.WithContext(ctx).Create(&data).Error; err != nil {
		if isUniqueConstraintError(err) {
			return Message{}, fmt.Errorf("%w", errs.ErrMessageDuplicate)
		}
		return Message{}, err
	}
	return data, nil
}

// isUniqueConstraintError 检查是否是唯一索引冲突错误
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	me := new(mysql.MySQLError)
	if ok := errors.As(err, &me); ok {
		const uniqueIndexErrNo uint16 = 1062
		return me.Number == uniqueIndexErrNo
	}
	return false
}

func (d *messageDAO) GetByID(ctx context.Context, id uint64) (Message, error) {
	var msg Message
	err := d.db.WithContext(ctx).First(&msg, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, fmt.Errorf("%w: id=%d", errs.ErrMessageNotFound, id)
		}
		return Message{}, err
	}
	return msg, nil
}

func (d *messageDAO) GetByIdempotencyKey(ctx context.Context, key string) (Message, error) {
	var msg Message
	err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, fmt.Errorf("%w: idempotencyKey=%s", errs.ErrMessageNotFound, key)
		}
		return Message{}, err
	}
	return msg, nil
}

// 未指定分页大小时的默认页长
const defaultFindLimit = 20

func (d *messageDAO) Find(ctx context.Context, query MessageQuery) ([]Message, int64, error) {
	if query.Limit <= 0 {
		query.Limit = defaultFindLimit
	}
	tx := d.db.WithContext(ctx).Model(&Message{})
	if query.Channel != "" {
		tx = tx.Where("channel = ?", query.Channel)
	}
	if query.Status != "" {
		tx = tx.Where("status = ?", query.Status)
	}
	if query.To != "" {
		tx = tx.Where("`to` LIKE ?", "%"+query.To+"%")
	}
	if query.RequestID != "" {
		tx = tx.Where("request_id = ?", query.RequestID)
	}
	if query.StartTime > 0 {
		tx = tx.Where("ctime >= ?", query.StartTime)
	}
	if query.EndTime > 0 {
		tx = tx.Where("ctime <= ?", query.EndTime)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []Message
	err := tx.Order("ctime DESC").
		Offset(query.Offset).Limit(query.Limit).
		Find(&msgs).Error
	return msgs, total, err
}

func (d *messageDAO) MarkSending(ctx context.Context, id uint64, version int) error {
	res := d.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND version = ? AND status IN ?", id, version,
			[]string{domain.MessageStatusPending.String(), domain.MessageStatusRetrying.String()}).
		Updates(map[string]any{
			"status":  domain.MessageStatusSending.String(),
			"version": gorm.Expr("version + 1"),
			"utime":   time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrMessageVersionMismatch, id)
	}
	return nil
}

func (d *messageDAO) MarkSuccess(ctx context.Context, data Message) error {
	return d.casUpdate(ctx, data.ID, data.Version, map[string]any{
		"status":  domain.MessageStatusSuccess.String(),
		"sender":  data.Sender,
		"sent_at": data.SentAt,
	})
}

func (d *messageDAO) MarkRetrying(ctx context.Context, data Message) error {
	return d.casUpdate(ctx, data.ID, data.Version, map[string]any{
		"status":        domain.MessageStatusRetrying.String(),
		"retry_count":   data.RetryCount,
		"retry_logs":    data.RetryLogs,
		"error_message": data.ErrorMessage,
	})
}

func (d *messageDAO) MarkFailed(ctx context.Context, data Message) error {
	return d.casUpdate(ctx, data.ID, data.Version, map[string]any{
		"status":        domain.MessageStatusFailed.String(),
		"retry_logs":    data.RetryLogs,
		"error_code":    data.ErrorCode,
		"error_message": data.ErrorMessage,
	})
}

func (d *messageDAO) casUpdate(ctx context.Context, id uint64, version int, updates map[string]any) error {
	updates["version"] = gorm.Expr("version + 1")
	updates["utime"] = time.Now().UnixMilli()
	res := d.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrMessageVersionMismatch, id)
	}
	return nil
}

func (d *messageDAO) Requeue(ctx context.Context, id uint64) (Message, error) {
	var msg Message
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&msg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%d", errs.ErrMessageNotFound, id)
			}
			return err
		}
		if msg.Status != domain.MessageStatusFailed.String() {
			return fmt.Errorf("%w: status=%s", errs.ErrRequeueNotAllowed, msg.Status)
		}

		// 重试预算已耗尽时清零，否则保留计数
		retryCount := msg.RetryCount
		if retryCount >= msg.MaxRetry {
			retryCount = 0
		}

		now := time.Now().UnixMilli()
		res := tx.Model(&Message{}).
			Where("id = ? AND version = ?", id, msg.Version).
			Updates(map[string]any{
				"status":        domain.MessageStatusPending.String(),
				"retry_count":   retryCount,
				"error_code":    "",
				"error_message": "",
				"version":       gorm.Expr("version + 1"),
				"utime":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected < 1 {
			return fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrMessageVersionMismatch, id)
		}

		msg.Status = domain.MessageStatusPending.String()
		msg.RetryCount = retryCount
		msg.ErrorCode = ""
		msg.ErrorMessage = ""
		msg.Version++
		msg.Utime = now
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (d *messageDAO) FindTimeoutSending(ctx context.Context, utime int64, limit int) ([]Message, error) {
	var res []Message
	err := d.db.WithContext(ctx).
		Where("status = ? AND utime <= ?", domain.MessageStatusSending.String(), utime).
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *messageDAO) FindStaleWaiting(ctx context.Context, utime int64, limit int) ([]Message, error) {
	var res []Message
	err := d.db.WithContext(ctx).
		Where("status IN ? AND utime <= ?",
			[]string{domain.MessageStatusPending.String(), domain.MessageStatusRetrying.String()}, utime).
		Limit(limit).
		Find(&res).Error
	return res, err
}
