package ioc

import (
	"gitee.com/flycash/message-platform/internal/repository/dao"
	"github.com/ego-component/egorm"
)

func InitDB() *egorm.Component {
	return egorm.Load("mysql").Build()
}

// InitTables 建表，已存在时跳过
func InitTables(db *egorm.Component) error {
	return db.AutoMigrate(
		&dao.Message{},
		&dao.TemplateDefinition{},
		&dao.TemplateHistory{},
		&dao.EmailAccount{},
	)
}
