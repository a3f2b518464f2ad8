//go:build unit

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()
	builder := &ExponentialBackoffBuilder{}
	strategy, err := builder.Build(`{"initialInterval":60000,"maxInterval":600000,"jitter":0}`)
	require.NoError(t, err)

	testCases := []struct {
		name       string
		retryCount int32
		wantDelay  time.Duration
	}{
		{name: "第1次重试使用初始间隔", retryCount: 1, wantDelay: 60 * time.Second},
		{name: "第2次重试翻倍", retryCount: 2, wantDelay: 120 * time.Second},
		{name: "第3次重试再翻倍", retryCount: 3, wantDelay: 240 * time.Second},
		{name: "超过上限后封顶", retryCount: 10, wantDelay: 600 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			before := time.Now()
			next, ok := strategy.NextRetryTime(tc.retryCount)
			require.True(t, ok)
			delay := next.Sub(before)
			assert.InDelta(t, tc.wantDelay.Seconds(), delay.Seconds(), 1.0)
		})
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	t.Parallel()
	builder := &ExponentialBackoffBuilder{}
	strategy, err := builder.Build(`{"initialInterval":60000,"maxInterval":600000,"jitter":0.2}`)
	require.NoError(t, err)

	// 抖动后的间隔必须落在 [60s, 72s] 内，且不超过上限
	for i := 0; i < 50; i++ {
		before := time.Now()
		next, ok := strategy.NextRetryTime(1)
		require.True(t, ok)
		delay := next.Sub(before)
		assert.GreaterOrEqual(t, delay.Seconds(), 59.0)
		assert.LessOrEqual(t, delay.Seconds(), 73.0)
	}
}

func TestExponentialBackoffNonDecreasing(t *testing.T) {
	t.Parallel()
	builder := &ExponentialBackoffBuilder{}
	strategy, err := builder.Build(`{"initialInterval":60000,"maxInterval":600000,"jitter":0}`)
	require.NoError(t, err)

	var prev time.Duration
	for count := int32(1); count <= 8; count++ {
		before := time.Now()
		next, _ := strategy.NextRetryTime(count)
		delay := next.Sub(before)
		assert.GreaterOrEqual(t, delay, prev, "重试间隔不应随次数递减")
		prev = delay - time.Second
	}
}

func TestFixedInterval(t *testing.T) {
	t.Parallel()
	builder := &FixedIntervalBuilder{}
	strategy, err := builder.Build(`{"interval":30000}`)
	require.NoError(t, err)

	before := time.Now()
	next, ok := strategy.NextRetryTime(5)
	require.True(t, ok)
	assert.InDelta(t, 30.0, next.Sub(before).Seconds(), 1.0)
}

func TestFacadeBuilder(t *testing.T) {
	t.Parallel()

	t.Run("内置策略", func(t *testing.T) {
		t.Parallel()
		builder := NewDefaultBuilder()
		strategy, err := builder.Build(`{"type":"exponential","initialInterval":1000,"maxInterval":10000}`)
		require.NoError(t, err)
		_, ok := strategy.NextRetryTime(1)
		assert.True(t, ok)
	})

	t.Run("未知策略类型", func(t *testing.T) {
		t.Parallel()
		builder := NewDefaultBuilder()
		_, err := builder.Build(`{"type":"unknown"}`)
		assert.Error(t, err)
	})

	t.Run("非法JSON", func(t *testing.T) {
		t.Parallel()
		builder := NewDefaultBuilder()
		_, err := builder.Build(`not-json`)
		assert.Error(t, err)
	})
}
