package template

import (
	"context"
	"fmt"

	"gitee.com/flycash/message-platform/internal/domain"
	"gitee.com/flycash/message-platform/internal/errs"
	"gitee.com/flycash/message-platform/internal/repository"
	"gitee.com/flycash/message-platform/internal/service/template/render"
)

// Service 模板管理与渲染服务接口。
// 管理操作仅限管理员，渲染对所有调用方开放
type Service interface {
	Create(ctx context.Context, actor domain.Actor, tpl domain.TemplateDefinition) (domain.TemplateDefinition, error)
	// Update 更新模板内容，变更前的状态自动快照进历史，版本号+1
	Update(ctx context.Context, actor domain.Actor, tpl domain.TemplateDefinition, reason string) error
	// Rollback 回滚到历史版本。回滚也是一次变更：快照当前状态，版本号继续+1
	Rollback(ctx context.Context, actor domain.Actor, templateID int64, targetVersion int32, reason string) error
	// Delete 软删除，消息记录仍可引用已删除模板的历史内容
	Delete(ctx context.Context, actor domain.Actor, templateID int64) error

	GetByID(ctx context.Context, templateID int64) (domain.TemplateDefinition, error)
	GetByCode(ctx context.Context, code string) (domain.TemplateDefinition, error)
	List(ctx context.Context, offset, limit int) ([]domain.TemplateDefinition, error)
	ListHistory(ctx context.Context, templateID int64) ([]domain.TemplateHistory, error)

	// Render 按模板编码渲染，返回渲染结果与使用的模板信息
	Render(ctx context.Context, code string, params map[string]string) (RenderResult, error)
	// Preview 渲染给定模板内容，不落库，供管理端试渲染
	Preview(ctx context.Context, tpl domain.TemplateDefinition, params map[string]string) (RenderResult, error)
}

// RenderResult 渲染结果
type RenderResult struct {
	TemplateID      int64
	TemplateVersion int32
	Subject         string
	Content         string
}

type service struct {
	repo repository.TemplateRepository
}

// NewService 创建模板服务实例
func NewService(repo repository.TemplateRepository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) Create(ctx context.Context, actor domain.Actor, tpl domain.TemplateDefinition) (domain.TemplateDefinition, error) {
	if !actor.IsAdmin() {
		return domain.TemplateDefinition{}, fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	if tpl.Code == "" || tpl.Name == "" || tpl.ContentTemplate == "" {
		return domain.TemplateDefinition{}, fmt.Errorf("%w: 编码、名称、内容模板均不能为空", errs.ErrInvalidParameter)
	}
	if !tpl.Channel.IsValid() {
		return domain.TemplateDefinition{}, fmt.Errorf("%w: Channel = %q", errs.ErrInvalidParameter, tpl.Channel)
	}
	if err := s.validateSyntax(tpl); err != nil {
		return domain.TemplateDefinition{}, err
	}

	tpl.IsActive = true
	tpl.Status = domain.TemplateStatusActive
	tpl.CreatedBy = actor.String()
	tpl.UpdatedBy = actor.String()
	return s.repo.Create(ctx, tpl)
}

func (s *service) Update(ctx context.Context, actor domain.Actor, tpl domain.TemplateDefinition, reason string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	if tpl.ContentTemplate == "" {
		return fmt.Errorf("%w: 内容模板不能为空", errs.ErrInvalidParameter)
	}
	if err := s.validateSyntax(tpl); err != nil {
		return err
	}

	current, err := s.repo.GetByID(ctx, tpl.ID)
	if err != nil {
		return err
	}

	updated := current
	updated.Name = tpl.Name
	updated.Description = tpl.Description
	updated.SubjectTemplate = tpl.SubjectTemplate
	updated.ContentTemplate = tpl.ContentTemplate
	updated.Variables = tpl.Variables
	updated.UpdatedBy = actor.String()

	return s.repo.UpdateWithHistory(ctx, updated, s.snapshot(current, reason, actor))
}

func (s *service) Rollback(ctx context.Context, actor domain.Actor, templateID int64, targetVersion int32, reason string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}

	current, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return err
	}
	target, err := s.repo.GetHistory(ctx, templateID, targetVersion)
	if err != nil {
		return err
	}

	// 回滚取回的是历史内容，版本号不回退
	updated := current
	updated.SubjectTemplate = target.SubjectTemplate
	updated.ContentTemplate = target.ContentTemplate
	updated.Variables = target.Variables
	updated.UpdatedBy = actor.String()

	if reason == "" {
		reason = fmt.Sprintf("回滚至版本 %d", targetVersion)
	}
	return s.repo.UpdateWithHistory(ctx, updated, s.snapshot(current, reason, actor))
}

func (s *service) Delete(ctx context.Context, actor domain.Actor, templateID int64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: actor=%s", errs.ErrPermissionDenied, actor)
	}
	return s.repo.SoftDelete(ctx, templateID)
}

func (s *service) GetByID(ctx context.Context, templateID int64) (domain.TemplateDefinition, error) {
	return s.repo.GetByID(ctx, templateID)
}

func (s *service) GetByCode(ctx context.Context, code string) (domain.TemplateDefinition, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *service) List(ctx context.Context, offset, limit int) ([]domain.TemplateDefinition, error) {
	return s.repo.List(ctx, offset, limit)
}

func (s *service) ListHistory(ctx context.Context, templateID int64) ([]domain.TemplateHistory, error) {
	return s.repo.ListHistory(ctx, templateID)
}

func (s *service) Render(ctx context.Context, code string, params map[string]string) (RenderResult, error) {
	tpl, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return RenderResult{}, err
	}
	return s.doRender(tpl, params)
}

func (s *service) Preview(_ context.Context, tpl domain.TemplateDefinition, params map[string]string) (RenderResult, error) {
	return s.doRender(tpl, params)
}

func (s *service) doRender(tpl domain.TemplateDefinition, params map[string]string) (RenderResult, error) {
	// 必填变量先于渲染检查，报错信息更友好
	for _, name := range tpl.RequiredVariables() {
		if _, ok := params[name]; !ok {
			return RenderResult{}, fmt.Errorf("%w: %q", errs.ErrTemplateVariableUndefined, name)
		}
	}

	subject, content, err := render.RenderSubjectAndContent(tpl.SubjectTemplate, tpl.ContentTemplate, params)
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		Subject:         subject,
		Content:         content,
	}, nil
}

func (s *service) validateSyntax(tpl domain.TemplateDefinition) error {
	if err := render.Validate("content", tpl.ContentTemplate); err != nil {
		return err
	}
	if tpl.SubjectTemplate != "" {
		return render.Validate("subject", tpl.SubjectTemplate)
	}
	return nil
}

func (s *service) snapshot(current domain.TemplateDefinition, reason string, actor domain.Actor) domain.TemplateHistory {
	return domain.TemplateHistory{
		TemplateID:      current.ID,
		Version:         current.Version,
		SubjectTemplate: current.SubjectTemplate,
		ContentTemplate: current.ContentTemplate,
		Variables:       current.Variables,
		ChangeReason:    reason,
		ChangedBy:       actor.String(),
	}
}
