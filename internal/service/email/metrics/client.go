// Client 为邮件客户端添加指标收集的装饰器
package metrics

import (
	"context"
	"time"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/service/email"
	"github.com/prometheus/client_golang/prometheus"
)

// Client 为邮件客户端添加指标收集的装饰器
type Client struct {
	client              email.Client
	sendDurationSummary *prometheus.SummaryVec
	sendCounter         *prometheus.CounterVec
}

// NewClient 创建一个新的带有指标收集的邮件客户端
func NewClient(c email.Client) *Client {
	sendDurationSummary := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "email_send_duration_seconds",
			Help:       "邮件发送耗时统计（秒）",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     time.Minute * 5,
		},
		[]string{"account", "status"},
	)

	sendCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_send_total",
			Help: "邮件发送总数",
		},
		[]string{"account", "status"},
	)

	// 注册指标
	prometheus.MustRegister(sendDurationSummary, sendCounter)

	return &Client{
		client:              c,
		sendDurationSummary: sendDurationSummary,
		sendCounter:         sendCounter,
	}
}

// Send 发送邮件并记录指标
func (c *Client) Send(ctx context.Context, account domain.EmailAccount, password string, msg domain.Message) error {
	startTime := time.Now()

	err := c.client.Send(ctx, account, password, msg)

	status := "success"
	if err != nil {
		status = "failure"
	}
	duration := time.Since(startTime).Seconds()

	c.sendCounter.WithLabelValues(account.Email, status).Inc()
	c.sendDurationSummary.WithLabelValues(account.Email, status).Observe(duration)

	return err
}
