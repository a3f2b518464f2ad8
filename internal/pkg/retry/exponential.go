package retry

import (
	"encoding/json"
	"math/rand"
	"time"
)

type ExponentialBackoffBuilder struct{}

type exponentialConfig struct {
	// 初始重试间隔 单位ms
	InitialInterval int `json:"initialInterval"`
	// 最大重试间隔 单位ms
	MaxInterval int `json:"maxInterval"`
	// 抖动比例，0~1，实际间隔在 [d, d*(1+jitter)] 内随机
	Jitter float64 `json:"jitter"`
}

func (b *ExponentialBackoffBuilder) Build(configStr string) (Strategy, error) {
	var cfg exponentialConfig
	err := json.Unmarshal([]byte(configStr), &cfg)
	if err != nil {
		return nil, err
	}
	initial := msToDuration(cfg.InitialInterval)
	maxInterval := msToDuration(cfg.MaxInterval)
	return StrategyFunc(func(retryCount int32) (time.Time, bool) {
		// 第1次重试用初始间隔，之后每次翻倍
		delay := initial
		for i := int32(1); i < retryCount; i++ {
			delay *= 2
			if delay >= maxInterval {
				delay = maxInterval
				break
			}
		}
		if cfg.Jitter > 0 {
			delay += time.Duration(cfg.Jitter * rand.Float64() * float64(delay))
		}
		if delay > maxInterval {
			delay = maxInterval
		}
		return time.Now().Add(delay), true
	}), nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
