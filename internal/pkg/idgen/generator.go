package idgen

import (
	"fmt"

	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/sony/sonyflake"
)

// Generator 消息ID生成器，雪花算法
type Generator struct {
	sf *sonyflake.Sonyflake
}

func NewGenerator() *Generator {
	return &Generator{
		sf: sonyflake.NewSonyflake(sonyflake.Settings{}),
	}
}

// NextID 生成全局唯一ID
func (g *Generator) NextID() (uint64, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrMessageIDGenerateFailed, err)
	}
	return id, nil
}
