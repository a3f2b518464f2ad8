package ioc

import "context"

// Task 常驻后台任务
type Task interface {
	Start(ctx context.Context)
}
