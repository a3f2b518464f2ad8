package domain

import "fmt"

// ActorType 操作者类型
type ActorType string

const (
	ActorTypeAdmin      ActorType = "ADMIN"       // 管理员
	ActorTypeServiceKey ActorType = "SERVICE_KEY" // API Key 调用方
)

// Actor 操作者标识，沿调用链显式传递
type Actor struct {
	Type ActorType
	ID   int64
}

func NewAdminActor(id int64) Actor {
	return Actor{Type: ActorTypeAdmin, ID: id}
}

func NewServiceKeyActor(id int64) Actor {
	return Actor{Type: ActorTypeServiceKey, ID: id}
}

func (a Actor) IsAdmin() bool {
	return a.Type == ActorTypeAdmin
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Type, a.ID)
}
