package retry

import (
	"encoding/json"
	"time"
)

type FixedIntervalBuilder struct{}

type fixedConfig struct {
	// 重试间隔 单位ms
	Interval int `json:"interval"`
}

func (b *FixedIntervalBuilder) Build(configStr string) (Strategy, error) {
	var cfg fixedConfig
	err := json.Unmarshal([]byte(configStr), &cfg)
	if err != nil {
		return nil, err
	}
	interval := msToDuration(cfg.Interval)
	return StrategyFunc(func(_ int32) (time.Time, bool) {
		return time.Now().Add(interval), true
	}), nil
}
