//go:build unit

package render

import (
	"testing"

	"gitee.com/flycash/message-platform/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()

	t.Run("正常渲染", func(t *testing.T) {
		t.Parallel()
		res, err := Render("content", "你好 {{.name}}，验证码 {{.code}}", map[string]string{
			"name": "张三",
			"code": "8848",
		})
		require.NoError(t, err)
		assert.Equal(t, "你好 张三，验证码 8848", res)
	})

	t.Run("语法错误", func(t *testing.T) {
		t.Parallel()
		_, err := Render("content", "你好 {{.name", nil)
		assert.ErrorIs(t, err, errs.ErrTemplateSyntax)
	})

	t.Run("变量未定义", func(t *testing.T) {
		t.Parallel()
		_, err := Render("content", "你好 {{.name}}", map[string]string{"other": "x"})
		assert.ErrorIs(t, err, errs.ErrTemplateVariableUndefined)
	})

	t.Run("无变量引用时空参数也能渲染", func(t *testing.T) {
		t.Parallel()
		res, err := Render("content", "固定内容", nil)
		require.NoError(t, err)
		assert.Equal(t, "固定内容", res)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Validate("content", "你好 {{.name}}"))
	assert.ErrorIs(t, Validate("content", "你好 {{.name"), errs.ErrTemplateSyntax)
}

func TestRenderSubjectAndContent(t *testing.T) {
	t.Parallel()

	t.Run("主题与内容分别渲染", func(t *testing.T) {
		t.Parallel()
		subject, content, err := RenderSubjectAndContent(
			"欢迎 {{.name}}",
			"{{.name}}，你的账号已开通",
			map[string]string{"name": "李四"},
		)
		require.NoError(t, err)
		assert.Equal(t, "欢迎 李四", subject)
		assert.Equal(t, "李四，你的账号已开通", content)
	})

	t.Run("主题为空时跳过", func(t *testing.T) {
		t.Parallel()
		subject, content, err := RenderSubjectAndContent("", "正文", nil)
		require.NoError(t, err)
		assert.Empty(t, subject)
		assert.Equal(t, "正文", content)
	})

	t.Run("主题渲染失败时整体失败", func(t *testing.T) {
		t.Parallel()
		_, _, err := RenderSubjectAndContent("{{.missing}}", "正文", map[string]string{})
		assert.ErrorIs(t, err, errs.ErrTemplateVariableUndefined)
	})
}
