//go:build unit

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailAccountIsAvailable(t *testing.T) {
	t.Parallel()

	base := EmailAccount{
		IsActive:       true,
		DailyLimit:     500,
		DailySentCount: 0,
		FailureCount:   0,
	}

	testCases := []struct {
		name   string
		mutate func(a *EmailAccount)
		want   bool
	}{
		{name: "正常账号可用", mutate: func(*EmailAccount) {}, want: true},
		{name: "停用账号不可用", mutate: func(a *EmailAccount) { a.IsActive = false }, want: false},
		{name: "触达每日限额不可用", mutate: func(a *EmailAccount) { a.DailySentCount = 500 }, want: false},
		{name: "限额只差一条仍可用", mutate: func(a *EmailAccount) { a.DailySentCount = 499 }, want: true},
		{name: "连续失败达到阈值不可用", mutate: func(a *EmailAccount) { a.FailureCount = AccountMaxFailureStreak }, want: false},
		{name: "连续失败未达阈值仍可用", mutate: func(a *EmailAccount) { a.FailureCount = AccountMaxFailureStreak - 1 }, want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := base
			tc.mutate(&a)
			assert.Equal(t, tc.want, a.IsAvailable())
		})
	}
}
