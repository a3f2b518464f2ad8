package retry

import "time"

// Strategy 重试调度策略
// 以持久化的 retryCount 为输入计算下一次尝试时间，自身不维护计数，
// 是否还有重试预算由调用方依据消息上的 max_retry 决定
type Strategy interface {
	// NextRetryTime 返回第 retryCount 次失败后的下一次尝试时间
	NextRetryTime(retryCount int32) (time.Time, bool)
}

// StrategyFunc 函数式实现
type StrategyFunc func(retryCount int32) (time.Time, bool)

func (f StrategyFunc) NextRetryTime(retryCount int32) (time.Time, bool) {
	return f(retryCount)
}

// Builder 根据JSON配置构建重试策略
type Builder interface {
	Build(configStr string) (Strategy, error)
}
