package scoring

import (
	"txpipeline/internal/model"
)

// ============================================================================
// 风险评分
// ============================================================================
//
// 纯函数：给定交易属性和富化数据，输出 [0,100] 的风险分。
// 规则权重加和后封顶 100、保底 0。所有权重都是显式配置，
// 评分过程不包含任何随机性。

// Weights 评分规则权重
type Weights struct {
	AmountOver1000   int     // 金额 > 1000
	AmountOver500    int     // 金额 > 500 且 ≤ 1000
	ForeignMerchant  int     // 商户国家 ≠ 本国
	RatingHigh       int     // 商户风险评级 HIGH
	RatingMedium     int     // 商户风险评级 MEDIUM
	TierNew          int     // 新客户
	TierStandard     int     // 普通客户
	AboveHistoryAvg  int     // 金额超过历史均值倍数
	HistoryAvgFactor float64 // 历史均值倍数
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{
		AmountOver1000:   20,
		AmountOver500:    10,
		ForeignMerchant:  15,
		RatingHigh:       30,
		RatingMedium:     15,
		TierNew:          25,
		TierStandard:     10,
		AboveHistoryAvg:  20,
		HistoryAvgFactor: 3,
	}
}

// RiskScorer 风险评分器
type RiskScorer struct {
	homeCountry string
	weights     Weights
}

func NewRiskScorer(homeCountry string) *RiskScorer {
	return &RiskScorer{
		homeCountry: homeCountry,
		weights:     DefaultWeights(),
	}
}

func NewRiskScorerWithWeights(homeCountry string, weights Weights) *RiskScorer {
	return &RiskScorer{
		homeCountry: homeCountry,
		weights:     weights,
	}
}

// Score 计算风险分
//
// 富化字段缺失时按"无额外风险"处理（本国商户 / LOW 评级 / STANDARD 客户），
// 不报错。各条规则独立触发，结果加和后钳制到 [0,100]。
func (s *RiskScorer) Score(amount float64, data *model.EnrichmentData) int {
	if data == nil {
		data = &model.EnrichmentData{}
	}

	score := 0

	switch {
	case amount > 1000:
		score += s.weights.AmountOver1000
	case amount > 500:
		score += s.weights.AmountOver500
	}

	if data.MerchantCountry != "" && data.MerchantCountry != s.homeCountry {
		score += s.weights.ForeignMerchant
	}

	switch data.MerchantRiskRating {
	case model.MerchantRatingHigh:
		score += s.weights.RatingHigh
	case model.MerchantRatingMedium:
		score += s.weights.RatingMedium
	}

	switch data.CustomerTier {
	case model.CustomerTierNew:
		score += s.weights.TierNew
	case model.CustomerTierStandard, "":
		// 缺档案按普通客户处理
		score += s.weights.TierStandard
	}

	if data.AvgTransactionAmount > 0 && amount > data.AvgTransactionAmount*s.weights.HistoryAvgFactor {
		score += s.weights.AboveHistoryAvg
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
