package repository

import (
	"context"
	"encoding/json"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// TemplateRepository 消息模板仓储接口
type TemplateRepository interface {
	Create(ctx context.Context, tpl domain.TemplateDefinition) (domain.TemplateDefinition, error)
	GetByID(ctx context.Context, id int64) (domain.TemplateDefinition, error)
	// GetByCode 只返回启用且未删除的模板
	GetByCode(ctx context.Context, code string) (domain.TemplateDefinition, error)
	List(ctx context.Context, offset, limit int) ([]domain.TemplateDefinition, error)

	// UpdateWithHistory 先写入变更前快照再CAS更新模板，版本号+1，同一事务内完成
	UpdateWithHistory(ctx context.Context, tpl domain.TemplateDefinition, snapshot domain.TemplateHistory) error

	GetHistory(ctx context.Context, templateID int64, version int32) (domain.TemplateHistory, error)
	ListHistory(ctx context.Context, templateID int64) ([]domain.TemplateHistory, error)

	SoftDelete(ctx context.Context, id int64) error
}

type templateRepository struct {
	dao dao.TemplateDAO
}

// NewTemplateRepository 创建仓储实例
func NewTemplateRepository(d dao.TemplateDAO) TemplateRepository {
	return &templateRepository{
		dao: d,
	}
}

func (r *templateRepository) Create(ctx context.Context, tpl domain.TemplateDefinition) (domain.TemplateDefinition, error) {
	created, err := r.dao.Create(ctx, r.toEntity(tpl))
	if err != nil {
		return domain.TemplateDefinition{}, err
	}
	return r.toDomain(created), nil
}

func (r *templateRepository) GetByID(ctx context.Context, id int64) (domain.TemplateDefinition, error) {
	tpl, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.TemplateDefinition{}, err
	}
	return r.toDomain(tpl), nil
}

func (r *templateRepository) GetByCode(ctx context.Context, code string) (domain.TemplateDefinition, error) {
	tpl, err := r.dao.GetByCode(ctx, code)
	if err != nil {
		return domain.TemplateDefinition{}, err
	}
	return r.toDomain(tpl), nil
}

func (r *templateRepository) List(ctx context.Context, offset, limit int) ([]domain.TemplateDefinition, error) {
	tpls, err := r.dao.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return slice.Map(tpls, func(_ int, src dao.TemplateDefinition) domain.TemplateDefinition {
		return r.toDomain(src)
	}), nil
}

func (r *templateRepository) UpdateWithHistory(ctx context.Context, tpl domain.TemplateDefinition, snapshot domain.TemplateHistory) error {
	return r.dao.UpdateWithHistory(ctx, r.toEntity(tpl), r.toHistoryEntity(snapshot))
}

func (r *templateRepository) GetHistory(ctx context.Context, templateID int64, version int32) (domain.TemplateHistory, error) {
	h, err := r.dao.GetHistory(ctx, templateID, version)
	if err != nil {
		return domain.TemplateHistory{}, err
	}
	return r.toHistoryDomain(h), nil
}

func (r *templateRepository) ListHistory(ctx context.Context, templateID int64) ([]domain.TemplateHistory, error) {
	hs, err := r.dao.ListHistory(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return slice.Map(hs, func(_ int, src dao.TemplateHistory) domain.TemplateHistory {
		return r.toHistoryDomain(src)
	}), nil
}

func (r *templateRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.dao.SoftDelete(ctx, id)
}

func (r *templateRepository) toEntity(tpl domain.TemplateDefinition) dao.TemplateDefinition {
	return dao.TemplateDefinition{
		ID:              tpl.ID,
		Code:            tpl.Code,
		Name:            tpl.Name,
		Channel:         tpl.Channel.String(),
		Description:     tpl.Description,
		SubjectTemplate: tpl.SubjectTemplate,
		ContentTemplate: tpl.ContentTemplate,
		Variables:       marshalVariables(tpl.Variables),
		Version:         tpl.Version,
		IsActive:        tpl.IsActive,
		Status:          tpl.Status.String(),
		CreatedBy:       tpl.CreatedBy,
		UpdatedBy:       tpl.UpdatedBy,
		Ctime:           tpl.Ctime,
		Utime:           tpl.Utime,
	}
}

func (r *templateRepository) toDomain(tpl dao.TemplateDefinition) domain.TemplateDefinition {
	return domain.TemplateDefinition{
		ID:              tpl.ID,
		Code:            tpl.Code,
		Name:            tpl.Name,
		Channel:         domain.Channel(tpl.Channel),
		Description:     tpl.Description,
		SubjectTemplate: tpl.SubjectTemplate,
		ContentTemplate: tpl.ContentTemplate,
		Variables:       unmarshalVariables(tpl.Variables),
		Version:         tpl.Version,
		IsActive:        tpl.IsActive,
		Status:          domain.TemplateStatus(tpl.Status),
		CreatedBy:       tpl.CreatedBy,
		UpdatedBy:       tpl.UpdatedBy,
		Ctime:           tpl.Ctime,
		Utime:           tpl.Utime,
	}
}

func (r *templateRepository) toHistoryEntity(h domain.TemplateHistory) dao.TemplateHistory {
	return dao.TemplateHistory{
		ID:              h.ID,
		TemplateID:      h.TemplateID,
		Version:         h.Version,
		SubjectTemplate: h.SubjectTemplate,
		ContentTemplate: h.ContentTemplate,
		Variables:       marshalVariables(h.Variables),
		ChangeReason:    h.ChangeReason,
		ChangedBy:       h.ChangedBy,
		Ctime:           h.Ctime,
	}
}

func (r *templateRepository) toHistoryDomain(h dao.TemplateHistory) domain.TemplateHistory {
	return domain.TemplateHistory{
		ID:              h.ID,
		TemplateID:      h.TemplateID,
		Version:         h.Version,
		SubjectTemplate: h.SubjectTemplate,
		ContentTemplate: h.ContentTemplate,
		Variables:       unmarshalVariables(h.Variables),
		ChangeReason:    h.ChangeReason,
		ChangedBy:       h.ChangedBy,
		Ctime:           h.Ctime,
	}
}

func marshalVariables(vars map[string]domain.VariableDef) string {
	if len(vars) == 0 {
		return ""
	}
	b, _ := json.Marshal(vars)
	return string(b)
}

func unmarshalVariables(s string) map[string]domain.VariableDef {
	if s == "" {
		return nil
	}
	var vars map[string]domain.VariableDef
	_ = json.Unmarshal([]byte(s), &vars)
	return vars
}
