package scoring

import (
	"testing"

	"txpipeline/internal/model"
)

func TestScoreForeignHighRiskNewCustomer(t *testing.T) {
	scorer := NewRiskScorer("US")
	data := &model.EnrichmentData{
		MerchantCountry:      "INTL",
		MerchantRiskRating:   model.MerchantRatingHigh,
		CustomerTier:         model.CustomerTierNew,
		AvgTransactionAmount: 50,
	}

	// 外国商户 15 + HIGH 30 + 新客户 25 + 超历史均值3倍 20 = 90
	got := scorer.Score(200, data)
	if got != 90 {
		t.Fatalf("Score(200) = %d, want 90", got)
	}
}

func TestScoreCappedAt100(t *testing.T) {
	scorer := NewRiskScorer("US")
	data := &model.EnrichmentData{
		MerchantCountry:      "INTL",
		MerchantRiskRating:   model.MerchantRatingHigh,
		CustomerTier:         model.CustomerTierNew,
		AvgTransactionAmount: 50,
	}

	// 金额档 10 + 15 + 30 + 25 + 20 = 100（刚好触顶）
	if got := scorer.Score(600, data); got != 100 {
		t.Fatalf("Score(600) = %d, want 100", got)
	}

	// 金额档换成 20，总和 105，仍须钳制到 100
	if got := scorer.Score(1500, data); got != 100 {
		t.Fatalf("Score(1500) = %d, want 100", got)
	}
}

func TestScoreAmountBands(t *testing.T) {
	scorer := NewRiskScorer("US")
	// PREMIUM 客户不触发等级权重，隔离出金额档位
	data := &model.EnrichmentData{
		MerchantCountry:    "US",
		MerchantRiskRating: model.MerchantRatingLow,
		CustomerTier:       model.CustomerTierPremium,
	}

	cases := []struct {
		name   string
		amount float64
		want   int
	}{
		{"低于500不加分", 400, 0},
		{"边界500不加分", 500, 0},
		{"500到1000加10", 800, 10},
		{"边界1000加10", 1000, 10},
		{"高于1000加20", 1200, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scorer.Score(tc.amount, data); got != tc.want {
				t.Fatalf("Score(%v) = %d, want %d", tc.amount, got, tc.want)
			}
		})
	}
}

func TestScoreMissingEnrichmentDefaults(t *testing.T) {
	scorer := NewRiskScorer("US")

	// 富化字段整体缺失按"无额外风险"处理：只剩默认 STANDARD 等级的权重
	if got := scorer.Score(100, nil); got != 10 {
		t.Fatalf("Score(100, nil) = %d, want 10", got)
	}
	if got := scorer.Score(100, &model.EnrichmentData{}); got != 10 {
		t.Fatalf("Score(100, empty) = %d, want 10", got)
	}
}

func TestScoreNeverBelowZero(t *testing.T) {
	scorer := NewRiskScorerWithWeights("US", Weights{TierStandard: -50})
	if got := scorer.Score(100, nil); got != 0 {
		t.Fatalf("Score = %d, want 0", got)
	}
}

func TestScoreHistoryAverageRule(t *testing.T) {
	scorer := NewRiskScorer("US")
	data := &model.EnrichmentData{
		MerchantCountry:      "US",
		MerchantRiskRating:   model.MerchantRatingLow,
		CustomerTier:         model.CustomerTierPremium,
		AvgTransactionAmount: 100,
	}

	// 刚好等于3倍不触发
	if got := scorer.Score(300, data); got != 0 {
		t.Fatalf("Score(300) = %d, want 0", got)
	}
	// 超过3倍触发 +20
	if got := scorer.Score(301, data); got != 20 {
		t.Fatalf("Score(301) = %d, want 20", got)
	}
	// 无历史均值不触发
	data.AvgTransactionAmount = 0
	if got := scorer.Score(301, data); got != 0 {
		t.Fatalf("Score(301, avg=0) = %d, want 0", got)
	}
}
