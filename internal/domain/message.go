package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gitee.com/flycash/message-platform/internal/errs"
)

// Channel 消息渠道
type Channel string

const (
	ChannelEmail          Channel = "email"           // 邮件
	ChannelSMS            Channel = "sms"             // 短信
	ChannelWechat         Channel = "wechat"          // 微信
	ChannelWechatOfficial Channel = "wechat_official" // 微信公众号
)

func (c Channel) String() string {
	return string(c)
}

// IsValid 校验是否为合法渠道，任何入口（外部输入、存储读取）都要调用
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWechat, ChannelWechatOfficial:
		return true
	default:
		return false
	}
}

// MessageStatus 消息发送状态
type MessageStatus string

const (
	MessageStatusPending  MessageStatus = "PENDING"  // 待发送
	MessageStatusSending  MessageStatus = "SENDING"  // 发送中
	MessageStatusSuccess  MessageStatus = "SUCCESS"  // 发送成功
	MessageStatusFailed   MessageStatus = "FAILED"   // 发送失败
	MessageStatusRetrying MessageStatus = "RETRYING" // 等待重试
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSending, MessageStatusSuccess,
		MessageStatusFailed, MessageStatusRetrying:
		return true
	default:
		return false
	}
}

// IsTerminal 终态消息不再参与调度
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusSuccess || s == MessageStatusFailed
}

// ContentType 消息内容类型
type ContentType string

const (
	ContentTypeHTML     ContentType = "html"
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
)

func (c ContentType) String() string {
	return string(c)
}

func (c ContentType) IsValid() bool {
	switch c {
	case ContentTypeHTML, ContentTypeText, ContentTypeMarkdown:
		return true
	default:
		return false
	}
}

// 错误码，写入消息记录的 error_code 字段
const (
	ErrorCodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
)

const (
	// DefaultMaxRetry 默认最大重试次数
	DefaultMaxRetry int32 = 3
)

// RetryLog 单次重试记录，只追加不修改
type RetryLog struct {
	Attempt       int32  // 第几次尝试
	Error         string // 失败原因
	Timestamp     int64  // 失败时间（毫秒）
	NextRetryTime int64  // 计划下次尝试时间（毫秒），0表示不再重试
}

// Message 消息领域模型
// 内容字段创建后不可变，只有生命周期字段（状态、重试信息）会被状态机修改
type Message struct {
	ID             uint64  // 消息唯一标识
	IdempotencyKey string  // 幂等键，可为空，非空时全局唯一
	RequestID      string  // 请求ID，用于链路追踪，必有
	Channel        Channel // 发送渠道

	To  []string // 接收者
	Cc  []string // 抄送（仅邮件）
	Bcc []string // 密送（仅邮件）

	Subject     string      // 主题
	Content     string      // 已渲染的消息内容
	ContentType ContentType // 内容类型

	TemplateID      int64             // 模板ID，0表示直接内容
	TemplateVersion int32             // 渲染时的模板版本
	TemplateParams  map[string]string // 渲染时使用的参数

	Status     MessageStatus // 发送状态
	RetryCount int32         // 当前重试次数
	MaxRetry   int32         // 最大重试次数
	RetryLogs  []RetryLog    // 重试日志，追加写

	ErrorCode    string // 错误码
	ErrorMessage string // 错误信息

	Sender string // 实际发信账号
	SentAt int64  // 实际发送时间（毫秒）

	Version int   // 版本号，用于CAS操作
	Ctime   int64 // 创建时间（毫秒）
	Utime   int64 // 更新时间（毫秒）
}

// Validate 准入校验
func (m *Message) Validate() error {
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: Channel = %q", errs.ErrInvalidParameter, m.Channel)
	}

	if len(m.To) == 0 {
		return fmt.Errorf("%w: To = %v", errs.ErrInvalidParameter, m.To)
	}

	if m.Content == "" {
		return fmt.Errorf("%w", errs.ErrMissingContent)
	}

	if !m.ContentType.IsValid() {
		return fmt.Errorf("%w: ContentType = %q", errs.ErrInvalidParameter, m.ContentType)
	}

	if m.MaxRetry < 0 {
		return fmt.Errorf("%w: MaxRetry = %d", errs.ErrInvalidParameter, m.MaxRetry)
	}

	return nil
}

// Fingerprint 内容指纹，渠道+接收者+已渲染内容的SHA256
func (m *Message) Fingerprint() string {
	data := fmt.Sprintf("%s:%s:%s", m.Channel, strings.Join(m.To, ","), m.Content)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Recipients 全部收件人，to + cc + bcc
func (m *Message) Recipients() []string {
	res := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	res = append(res, m.To...)
	res = append(res, m.Cc...)
	res = append(res, m.Bcc...)
	return res
}

// CanRequeue 仅失败状态允许管理员重新入队
func (m *Message) CanRequeue() bool {
	return m.Status == MessageStatusFailed
}
