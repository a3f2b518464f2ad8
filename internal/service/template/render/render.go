package render

import (
	"fmt"
	"strings"
	"text/template"

	"gitee.com/flycash/message-platform/internal/errs"
)

// Render 渲染单个模板，params 中缺少模板引用的变量时报错而不是渲染成空
// 三类错误分别映射：语法错误、变量未定义、其他渲染失败
func Render(name, tpl string, params map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrTemplateSyntax, err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, params); err != nil {
		// text/template 对缺失变量的报错信息里固定含有该字样
		if strings.Contains(err.Error(), "no entry for key") {
			return "", fmt.Errorf("%w: %w", errs.ErrTemplateVariableUndefined, err)
		}
		return "", fmt.Errorf("%w: %w", errs.ErrTemplateRender, err)
	}
	return sb.String(), nil
}

// Validate 只做语法检查，保存模板时调用
func Validate(name, tpl string) error {
	if _, err := template.New(name).Parse(tpl); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTemplateSyntax, err)
	}
	return nil
}

// RenderSubjectAndContent 渲染主题与内容，主题为空时跳过
func RenderSubjectAndContent(subjectTpl, contentTpl string, params map[string]string) (subject, content string, err error) {
	if subjectTpl != "" {
		subject, err = Render("subject", subjectTpl, params)
		if err != nil {
			return "", "", err
		}
	}
	content, err = Render("content", contentTpl, params)
	if err != nil {
		return "", "", err
	}
	return subject, content, nil
}
