package delayqueue

import (
	"context"
	"time"
)

// Task 一次投递任务，对应消息的一次发送尝试
// DeliveryCount 是任务队列自身的投递计数，仅用于排查问题，
// 重试预算以消息记录上的 retry_count/max_retry 为准
type Task struct {
	MessageID     uint64 `json:"messageID"`
	DeliveryCount int32  `json:"deliveryCount"`
}

// Queue 延迟任务队列，至少一次投递
type Queue interface {
	// Enqueue 将任务放入队列，delay 后可被取出
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
	// Dequeue 非阻塞取出一个到期任务，没有到期任务时 ok 为 false
	Dequeue(ctx context.Context) (task Task, ok bool, err error)
}
