package domain

// TemplateStatus 模板存储状态，软删除用显式状态表示，查询过滤统一在DAO层
type TemplateStatus string

const (
	TemplateStatusActive  TemplateStatus = "ACTIVE"
	TemplateStatusDeleted TemplateStatus = "DELETED"
)

func (s TemplateStatus) String() string {
	return string(s)
}

// VariableDef 模板变量定义
type VariableDef struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// TemplateDefinition 消息模板
// 每次内容变更（更新/回滚）都会先把变更前的状态快照进历史表，再把版本号+1，
// 版本号只增不减、不跳号
type TemplateDefinition struct {
	ID              int64                  // 模板ID
	Code            string                 // 模板编码，全局唯一
	Name            string                 // 模板名称
	Channel         Channel                // 适用渠道
	Description     string                 // 模板描述
	SubjectTemplate string                 // 主题模板，可为空
	ContentTemplate string                 // 内容模板
	Variables       map[string]VariableDef // 变量定义
	Version         int32                  // 当前版本号，从1开始
	IsActive        bool                   // 是否启用
	Status          TemplateStatus         // 存储状态
	CreatedBy       string                 // 创建人
	UpdatedBy       string                 // 最近更新人
	Ctime           int64
	Utime           int64
}

// RequiredVariables 必填变量名列表
func (t *TemplateDefinition) RequiredVariables() []string {
	var res []string
	for name, def := range t.Variables {
		if def.Required {
			res = append(res, name)
		}
	}
	return res
}

// TemplateHistory 模板版本快照，创建后不可变
type TemplateHistory struct {
	ID              int64
	TemplateID      int64                  // 关联模板ID
	Version         int32                  // 快照版本号
	SubjectTemplate string                 // 主题模板快照
	ContentTemplate string                 // 内容模板快照
	Variables       map[string]VariableDef // 变量定义快照
	ChangeReason    string                 // 变更原因
	ChangedBy       string                 // 变更人
	Ctime           int64
}
