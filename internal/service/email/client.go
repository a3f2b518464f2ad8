package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"github.com/ecodeclub/ekit/retry"
	"github.com/pkg/errors"
)

// 发送链路错误，对调度器而言都是可重试的
var (
	ErrConnect = errors.New("SMTP连接失败")
	ErrAuth    = errors.New("SMTP认证失败")
	ErrSend    = errors.New("邮件发送失败")
)

const (
	defaultDialTimeout = 10 * time.Second
	dialRetryInterval  = time.Second
	dialMaxRetries     = 2
)

// Client 邮件发送客户端
type Client interface {
	// Send 通过指定账号发送一封邮件，password 为已解密的SMTP密码
	Send(ctx context.Context, account domain.EmailAccount, password string, msg domain.Message) error
}

type smtpClient struct {
	dialTimeout time.Duration
}

// NewClient 创建SMTP客户端
func NewClient() Client {
	return &smtpClient{
		dialTimeout: defaultDialTimeout,
	}
}

func (c *smtpClient) Send(ctx context.Context, account domain.EmailAccount, password string, msg domain.Message) error {
	addr := fmt.Sprintf("%s:%d", account.SMTPHost, account.SMTPPort)

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if account.UseTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: account.SMTPHost})
	}

	client, err := smtp.NewClient(conn, account.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer client.Close()

	// 非隐式TLS的端口上尽量升级到 STARTTLS
	if !account.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: account.SMTPHost}); err != nil {
				return fmt.Errorf("%w: %w", ErrConnect, err)
			}
		}
	}

	auth := smtp.PlainAuth("", account.SMTPUsername, password, account.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	if err := client.Mail(account.Email); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	// 密送的收件人只出现在信封中，不出现在邮件头
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: rcpt=%s: %w", ErrSend, rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if _, err := w.Write(c.buildPayload(account, msg)); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return client.Quit()
}

// dial 建立TCP连接，瞬时网络错误在尝试超时内做有限次重试
func (c *smtpClient) dial(ctx context.Context, addr string) (net.Conn, error) {
	strategy, err := retry.NewFixedIntervalRetryStrategy(dialRetryInterval, dialMaxRetries)
	if err != nil {
		return nil, err
	}
	for {
		timeout := c.dialTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remain := time.Until(deadline); remain < timeout {
				timeout = remain
			}
		}
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err == nil {
			return conn, nil
		}
		next, ok := strategy.Next()
		if !ok {
			return nil, err
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *smtpClient) buildPayload(account domain.EmailAccount, msg domain.Message) []byte {
	var sb strings.Builder
	if account.DisplayName != "" {
		sb.WriteString(fmt.Sprintf("From: %s <%s>\r\n", account.DisplayName, account.Email))
	} else {
		sb.WriteString(fmt.Sprintf("From: %s\r\n", account.Email))
	}
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		sb.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType(msg.ContentType)))
	sb.WriteString("\r\n")
	sb.WriteString(msg.Content)
	return []byte(sb.String())
}

func contentType(ct domain.ContentType) string {
	if ct == domain.ContentTypeHTML {
		return "text/html"
	}
	// markdown 原样按纯文本投递，渲染交给接收端
	return "text/plain"
}
