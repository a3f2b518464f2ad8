package retry

import (
	"encoding/json"
	"fmt"
)

type facadeConfig struct {
	// 什么类型
	Type string `json:"type"`
}

type FacadeBuilder struct {
	builderMap map[string]Builder
}

func (f *FacadeBuilder) Build(configStr string) (Strategy, error) {
	var cfg facadeConfig
	err := json.Unmarshal([]byte(configStr), &cfg)
	if err != nil {
		return nil, err
	}
	builder, ok := f.builderMap[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("未知的重试策略：%s", cfg.Type)
	}
	return builder.Build(configStr)
}

func NewFacadeBuilder(builderMap map[string]Builder) Builder {
	return &FacadeBuilder{
		builderMap: builderMap,
	}
}

// NewDefaultBuilder 内置全部策略
func NewDefaultBuilder() Builder {
	return NewFacadeBuilder(map[string]Builder{
		"fixed":       &FixedIntervalBuilder{},
		"exponential": &ExponentialBackoffBuilder{},
	})
}
