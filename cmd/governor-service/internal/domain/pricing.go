package domain

// ModelPricing 模型定价（USD per 1K tokens）
type ModelPricing struct {
	Provider         string
	Model            string
	PromptPricePer1K float64
	OutputPricePer1K float64
	// FreeTierTokens 计费前减免的免费额度（输入+输出合计）
	FreeTierTokens int
}

// PricingTable 定价查询接口
type PricingTable interface {
	// Lookup 查询 (provider, model) 的定价；未知组合返回兜底定价，
	// 保证估价永远成功且偏保守。
	Lookup(provider, model string) ModelPricing
}

// 常见模型定价（2025年价格）
var defaultPricing = map[string]ModelPricing{
	"openai/gpt-4": {
		Provider: "openai", Model: "gpt-4",
		PromptPricePer1K: 0.03, OutputPricePer1K: 0.06,
	},
	"openai/gpt-4-turbo": {
		Provider: "openai", Model: "gpt-4-turbo",
		PromptPricePer1K: 0.01, OutputPricePer1K: 0.03,
	},
	"openai/gpt-3.5-turbo": {
		Provider: "openai", Model: "gpt-3.5-turbo",
		PromptPricePer1K: 0.0005, OutputPricePer1K: 0.0015,
	},
	"anthropic/claude-3-opus": {
		Provider: "anthropic", Model: "claude-3-opus",
		PromptPricePer1K: 0.015, OutputPricePer1K: 0.075,
	},
	"anthropic/claude-3-sonnet": {
		Provider: "anthropic", Model: "claude-3-sonnet",
		PromptPricePer1K: 0.003, OutputPricePer1K: 0.015,
	},
	"openai/embedding-ada-002": {
		Provider: "openai", Model: "embedding-ada-002",
		PromptPricePer1K: 0.0001, OutputPricePer1K: 0.0,
	},
}

// FallbackPricing 未知模型的兜底定价。取偏贵的档位，宁可高估不可低估。
var FallbackPricing = ModelPricing{
	PromptPricePer1K: 0.03,
	OutputPricePer1K: 0.06,
}

// StaticPricingTable 内置定价表
type StaticPricingTable struct {
	pricing  map[string]ModelPricing
	fallback ModelPricing
}

// NewStaticPricingTable 创建内置定价表，entries 为空时使用默认价目
func NewStaticPricingTable(entries []ModelPricing) *StaticPricingTable {
	pricing := make(map[string]ModelPricing)
	if len(entries) == 0 {
		for k, v := range defaultPricing {
			pricing[k] = v
		}
	} else {
		for _, e := range entries {
			pricing[e.Provider+"/"+e.Model] = e
		}
	}
	return &StaticPricingTable{pricing: pricing, fallback: FallbackPricing}
}

// Lookup 查询定价
func (t *StaticPricingTable) Lookup(provider, model string) ModelPricing {
	if p, ok := t.pricing[provider+"/"+model]; ok {
		return p
	}
	return t.fallback
}
