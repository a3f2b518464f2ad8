package domain

const (
	// AccountMaxFailureStreak 连续失败达到该值后账号暂停使用，等待人工清零
	AccountMaxFailureStreak = 5

	// DefaultDailyLimit 默认每日发送限额
	DefaultDailyLimit = 500
	// DefaultAccountPriority 默认优先级
	DefaultAccountPriority = 10
)

// EmailAccount 发信账号，带每日配额与健康状态
// daily_sent_count 每天由外部定时任务清零一次，调度引擎自身不负责清零
type EmailAccount struct {
	ID          int64
	Email       string // 邮箱地址，全局唯一
	DisplayName string // 显示名称

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string // 密文存储，仅在发送时解密
	UseTLS       bool

	DailyLimit     int   // 每日发送限额（软上限）
	DailySentCount int   // 今日已发送数量
	LastResetAt    int64 // 最后清零时间（毫秒）

	Priority int  // 优先级，数字越大越优先
	IsActive bool // 是否启用

	FailureCount  int   // 连续失败次数
	LastFailureAt int64 // 最后失败时间（毫秒）

	Remark string
	Ctime  int64
	Utime  int64
}

// IsAvailable 账号可用性判定：
// 启用中、未触达每日限额、连续失败未达阈值
func (a *EmailAccount) IsAvailable() bool {
	return a.IsActive &&
		a.DailySentCount < a.DailyLimit &&
		a.FailureCount < AccountMaxFailureStreak
}
