package errs

import (
	"errors"
)

// 定义统一的错误类型
var (
	ErrInvalidParameter = errors.New("参数错误")
	ErrMissingContent   = errors.New("消息内容不能为空")
	ErrPermissionDenied = errors.New("无操作权限")

	ErrMessageNotFound         = errors.New("消息记录不存在")
	ErrMessageDuplicate        = errors.New("消息记录唯一键冲突")
	ErrMessageVersionMismatch  = errors.New("消息记录版本不匹配")
	ErrMessageIDGenerateFailed = errors.New("消息ID生成失败")
	ErrRequeueNotAllowed       = errors.New("仅失败状态的消息允许重新入队")

	ErrTemplateNotFound          = errors.New("模板不存在或已停用")
	ErrTemplateCodeDuplicate     = errors.New("模板编码已存在")
	ErrTemplateSyntax            = errors.New("模板语法错误")
	ErrTemplateVariableUndefined = errors.New("模板变量未定义")
	ErrTemplateRender            = errors.New("模板渲染失败")
	ErrTemplateVersionNotFound   = errors.New("模板版本不存在")
	ErrTemplateVersionConflict   = errors.New("模板版本冲突")

	ErrNoAvailableAccount = errors.New("无可用发信账号")
	ErrAccountNotFound    = errors.New("发信账号不存在")
	ErrAccountDuplicate   = errors.New("发信账号已存在")
	ErrCredentialDecrypt  = errors.New("发信账号凭证解密失败")
)
