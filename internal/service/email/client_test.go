//go:build unit

package email

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPClientDial(t *testing.T) {
	t.Parallel()

	t.Run("连接成功", func(t *testing.T) {
		t.Parallel()
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()
		go func() {
			conn, aerr := l.Accept()
			if aerr == nil {
				_ = conn.Close()
			}
		}()

		c := NewClient().(*smtpClient)
		conn, err := c.dial(t.Context(), l.Addr().String())
		require.NoError(t, err)
		_ = conn.Close()
	})

	t.Run("重试等待期间上下文到期即返回", func(t *testing.T) {
		t.Parallel()
		// 先占端口再关闭，确保连接被拒绝而不是挂起
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		require.NoError(t, l.Close())

		c := NewClient().(*smtpClient)
		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err = c.dial(ctx, addr)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second, "不会做满全部重试间隔")
	})
}
