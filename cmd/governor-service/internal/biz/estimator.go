package biz

import (
	"llmgovernor/cmd/governor-service/internal/domain"
)

// CostEstimator 成本估算器。纯函数：(provider, model, tokens) → 预估美元。
// 未知模型走兜底定价，宁可高估不可低估。
type CostEstimator struct {
	pricing domain.PricingTable
}

// NewCostEstimator 创建成本估算器
func NewCostEstimator(pricing domain.PricingTable) *CostEstimator {
	if pricing == nil {
		pricing = domain.NewStaticPricingTable(nil)
	}
	return &CostEstimator{pricing: pricing}
}

// Estimate 计算预估成本。免费额度先抵扣输入 token，再抵扣输出 token。
func (e *CostEstimator) Estimate(provider, model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	p := e.pricing.Lookup(provider, model)

	free := p.FreeTierTokens
	if free > 0 {
		if free >= inputTokens {
			free -= inputTokens
			inputTokens = 0
		} else {
			inputTokens -= free
			free = 0
		}
		if free >= outputTokens {
			outputTokens = 0
		} else {
			outputTokens -= free
		}
	}

	promptCost := float64(inputTokens) / 1000.0 * p.PromptPricePer1K
	outputCost := float64(outputTokens) / 1000.0 * p.OutputPricePer1K

	return promptCost + outputCost
}
