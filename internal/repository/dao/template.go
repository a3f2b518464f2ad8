package dao

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
)

// TemplateDefinition 消息模板
type TemplateDefinition struct {
	ID              int64  `gorm:"primaryKey;autoIncrement;comment:'模板ID'"`
	Code            string `gorm:"type:VARCHAR(128);NOT NULL;uniqueIndex:idx_code;comment:'模板编码，全局唯一'"`
	Name            string `gorm:"type:VARCHAR(128);NOT NULL;comment:'模板名称'"`
	Channel         string `gorm:"type:ENUM('email','sms','wechat','wechat_official');NOT NULL;comment:'适用渠道'"`
	Description     string `gorm:"type:VARCHAR(512);comment:'模板描述'"`
	SubjectTemplate string `gorm:"type:TEXT;comment:'主题模板'"`
	ContentTemplate string `gorm:"type:TEXT;NOT NULL;comment:'内容模板'"`
	Variables       string `gorm:"type:TEXT;comment:'变量定义，JSON'"`
	Version         int32  `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'当前版本号，从1开始只增不减'"`
	IsActive        bool   `gorm:"type:TINYINT(1);NOT NULL;DEFAULT:1;comment:'是否启用'"`
	Status          string `gorm:"type:ENUM('ACTIVE','DELETED');NOT NULL;DEFAULT:'ACTIVE';comment:'存储状态，软删除'"`
	CreatedBy       string `gorm:"type:VARCHAR(128);comment:'创建人'"`
	UpdatedBy       string `gorm:"type:VARCHAR(128);comment:'最近更新人'"`
	Ctime           int64
	Utime           int64
}

func (TemplateDefinition) TableName() string {
	return "template_definitions"
}

// TemplateHistory 模板版本快照，仅插入不修改
type TemplateHistory struct {
	ID              int64  `gorm:"primaryKey;autoIncrement;comment:'快照ID'"`
	TemplateID      int64  `gorm:"NOT NULL;uniqueIndex:idx_template_version,priority:1;comment:'关联模板ID'"`
	Version         int32  `gorm:"type:INT;NOT NULL;uniqueIndex:idx_template_version,priority:2;comment:'快照版本号'"`
	SubjectTemplate string `gorm:"type:TEXT;comment:'主题模板快照'"`
	ContentTemplate string `gorm:"type:TEXT;NOT NULL;comment:'内容模板快照'"`
	Variables       string `gorm:"type:TEXT;comment:'变量定义快照，JSON'"`
	ChangeReason    string `gorm:"type:VARCHAR(512);comment:'变更原因'"`
	ChangedBy       string `gorm:"type:VARCHAR(128);comment:'变更人'"`
	Ctime           int64
}

func (TemplateHistory) TableName() string {
	return "template_histories"
}

type TemplateDAO interface {
	Create(ctx context.Context, data TemplateDefinition) (TemplateDefinition, error)
	GetByID(ctx context.Context, id int64) (TemplateDefinition, error)
	// GetByCode 只返回启用且未删除的模板
	GetByCode(ctx context.Context, code string) (TemplateDefinition, error)
	List(ctx context.Context, offset, limit int) ([]TemplateDefinition, error)
	// UpdateWithHistory 在一个事务内先写入变更前快照，再CAS更新模板并把版本号+1
	UpdateWithHistory(ctx context.Context, data TemplateDefinition, snapshot TemplateHistory) error
	GetHistory(ctx context.Context, templateID int64, version int32) (TemplateHistory, error)
	ListHistory(ctx context.Context, templateID int64) ([]TemplateHistory, error)
	SoftDelete(ctx context.Context, id int64) error
}

type templateDAO struct {
	db *egorm.Component
}

func NewTemplateDAO(db *egorm.Component) TemplateDAO {
	return &templateDAO{db: db}
}

func (d *templateDAO) Create(ctx context.Context, data TemplateDefinition) (TemplateDefinition, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	data.Version = 1
	err := d.db.WithContext(ctx).Create(&data).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return TemplateDefinition{}, errs.ErrTemplateCodeDuplicate
		}
		return TemplateDefinition{}, err
	}
	return data, nil
}

func (d *templateDAO) GetByID(ctx context.Context, id int64) (TemplateDefinition, error) {
	var res TemplateDefinition
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TemplateDefinition{}, errs.ErrTemplateNotFound
	}
	return res, err
}

func (d *templateDAO) GetByCode(ctx context.Context, code string) (TemplateDefinition, error) {
	var res TemplateDefinition
	err := d.db.WithContext(ctx).
		Where("code = ? AND is_active = ? AND status = ?", code, true, "ACTIVE").
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TemplateDefinition{}, errs.ErrTemplateNotFound
	}
	return res, err
}

func (d *templateDAO) List(ctx context.Context, offset, limit int) ([]TemplateDefinition, error) {
	var res []TemplateDefinition
	err := d.db.WithContext(ctx).
		Where("status = ?", "ACTIVE").
		Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *templateDAO) UpdateWithHistory(ctx context.Context, data TemplateDefinition, snapshot TemplateHistory) error {
	now := time.Now().UnixMilli()
	snapshot.Ctime = now
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&snapshot).Error; err != nil {
			return err
		}
		// 版本号CAS：data.Version 为调用方读到的当前版本，
		// 不匹配说明有并发变更，快照随事务一起回滚，保证版本号不跳号
		res := tx.Model(&TemplateDefinition{}).
			Where("id = ? AND version = ?", data.ID, data.Version).
			Updates(map[string]any{
				"name":             data.Name,
				"description":      data.Description,
				"subject_template": data.SubjectTemplate,
				"content_template": data.ContentTemplate,
				"variables":        data.Variables,
				"is_active":        data.IsActive,
				"updated_by":       data.UpdatedBy,
				"version":          gorm.Expr("version + 1"),
				"utime":            now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected < 1 {
			return errs.ErrTemplateVersionConflict
		}
		return nil
	})
}

func (d *templateDAO) GetHistory(ctx context.Context, templateID int64, version int32) (TemplateHistory, error) {
	var res TemplateHistory
	err := d.db.WithContext(ctx).
		Where("template_id = ? AND version = ?", templateID, version).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TemplateHistory{}, errs.ErrTemplateVersionNotFound
	}
	return res, err
}

func (d *templateDAO) ListHistory(ctx context.Context, templateID int64) ([]TemplateHistory, error) {
	var res []TemplateHistory
	err := d.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("version DESC").
		Find(&res).Error
	return res, err
}

func (d *templateDAO) SoftDelete(ctx context.Context, id int64) error {
	res := d.db.WithContext(ctx).Model(&TemplateDefinition{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":    "DELETED",
			"is_active": false,
			"utime":     time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected < 1 {
		return errs.ErrTemplateNotFound
	}
	return nil
}
