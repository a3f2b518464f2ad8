//go:build unit

package domain

import (
	"testing"

	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/stretchr/testify/assert"
)

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	valid := Message{
		Channel:     ChannelEmail,
		To:          []string{"a@example.com"},
		Content:     "内容",
		ContentType: ContentTypeHTML,
		MaxRetry:    3,
	}

	testCases := []struct {
		name    string
		mutate  func(m *Message)
		wantErr error
	}{
		{name: "合法消息", mutate: func(*Message) {}, wantErr: nil},
		{name: "非法渠道", mutate: func(m *Message) { m.Channel = "pigeon" }, wantErr: errs.ErrInvalidParameter},
		{name: "收件人为空", mutate: func(m *Message) { m.To = nil }, wantErr: errs.ErrInvalidParameter},
		{name: "内容为空", mutate: func(m *Message) { m.Content = "" }, wantErr: errs.ErrMissingContent},
		{name: "非法内容类型", mutate: func(m *Message) { m.ContentType = "pdf" }, wantErr: errs.ErrInvalidParameter},
		{name: "负数重试上限", mutate: func(m *Message) { m.MaxRetry = -1 }, wantErr: errs.ErrInvalidParameter},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := valid
			tc.mutate(&m)
			err := m.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestMessageFingerprint(t *testing.T) {
	t.Parallel()

	base := Message{
		Channel: ChannelEmail,
		To:      []string{"a@example.com"},
		Content: "内容",
	}

	t.Run("相同输入指纹稳定", func(t *testing.T) {
		t.Parallel()
		other := base
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("渠道不同指纹不同", func(t *testing.T) {
		t.Parallel()
		other := base
		other.Channel = ChannelSMS
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("收件人不同指纹不同", func(t *testing.T) {
		t.Parallel()
		other := base
		other.To = []string{"b@example.com"}
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("内容不同指纹不同", func(t *testing.T) {
		t.Parallel()
		other := base
		other.Content = "别的内容"
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})
}

func TestMessageStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, MessageStatusSuccess.IsTerminal())
	assert.True(t, MessageStatusFailed.IsTerminal())
	assert.False(t, MessageStatusPending.IsTerminal())
	assert.False(t, MessageStatusSending.IsTerminal())
	assert.False(t, MessageStatusRetrying.IsTerminal())

	assert.False(t, MessageStatus("UNKNOWN").IsValid())
}

func TestMessageRecipients(t *testing.T) {
	t.Parallel()

	m := Message{
		To:  []string{"a@x.com"},
		Cc:  []string{"b@x.com"},
		Bcc: []string{"c@x.com", "d@x.com"},
	}
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}, m.Recipients())
}

func TestMessageCanRequeue(t *testing.T) {
	t.Parallel()

	m := Message{Status: MessageStatusFailed}
	assert.True(t, m.CanRequeue())

	m.Status = MessageStatusSuccess
	assert.False(t, m.CanRequeue())
	m.Status = MessageStatusPending
	assert.False(t, m.CanRequeue())
}
