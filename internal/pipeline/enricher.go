package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"txpipeline/internal/config"
	"txpipeline/internal/model"
	"txpipeline/internal/scoring"
)

// Enricher 富化阶段（正常流程的终点）
//
// 输入状态只接受 VALIDATED。取外部档案数据，用规则权重重新评分，
// 按阈值落一个终态。基础设施故障先尽力发一条失败告警再向上传播，
// 让消息留给队列的重投递。
type Enricher struct {
	store  TransactionStore
	source EnrichmentSource
	sink   NotificationSink
	scorer *scoring.RiskScorer
	cfg    *config.BusinessConfig
}

func NewEnricher(store TransactionStore, source EnrichmentSource, sink NotificationSink, scorer *scoring.RiskScorer, cfg *config.BusinessConfig) *Enricher {
	return &Enricher{
		store:  store,
		source: source,
		sink:   sink,
		scorer: scorer,
		cfg:    cfg,
	}
}

func (e *Enricher) Name() string {
	return "Enricher"
}

func (e *Enricher) Process(ctx context.Context, transactionNo string) (*StageResult, error) {
	result, err := e.process(ctx, transactionNo)
	if err != nil {
		// 尽力而为的失败告警；告警本身失败不会掩盖原始错误
		e.sink.Publish("transaction.enrichment.failed", map[string]interface{}{
			"transaction_no": transactionNo,
			"error":          err.Error(),
		})
	}
	return result, err
}

func (e *Enricher) process(ctx context.Context, transactionNo string) (*StageResult, error) {
	txn, err := e.store.Get(ctx, transactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}

	// 幂等：重复投递已出终态的交易直接返回已有结论
	switch txn.Status {
	case model.StatusValidated:
		// 正常入口
	case model.StatusCompleted, model.StatusCompletedWithWarning, model.StatusRequiresManualReview:
		return e.persistedResult(txn), nil
	default:
		return nil, fmt.Errorf("%w: transactionNo=%s, status=%s", ErrInvalidState, transactionNo, txn.Status)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.ExternalTimeoutSecs)*time.Second)
	defer cancel()

	data, err := e.source.Lookup(lookupCtx, txn.MerchantID, txn.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("查询富化数据失败: %w", err)
	}

	riskScore := e.scorer.Score(txn.Amount, data)
	status := e.decide(riskScore)

	now := time.Now()
	txn.Stage = model.StageEnrichment
	txn.Status = status
	txn.RiskScore = &riskScore
	txn.MerchantCountry = data.MerchantCountry
	txn.MerchantRating = data.MerchantRiskRating
	txn.CustomerTier = data.CustomerTier
	txn.CompletedAt = &now
	if err := e.store.Upsert(ctx, txn); err != nil {
		return nil, fmt.Errorf("持久化富化结果失败: %w", err)
	}

	if status == model.StatusRequiresManualReview {
		e.sink.Publish("transaction.requires.review", map[string]interface{}{
			"transaction_no":   transactionNo,
			"risk_score":       riskScore,
			"merchant_country": data.MerchantCountry,
			"amount":           txn.Amount,
		})
	}

	log.Printf("[Enricher] 富化完成: transactionNo=%s, riskScore=%d, status=%s", transactionNo, riskScore, status)

	return &StageResult{
		TransactionNo: transactionNo,
		Outcome:       status,
		Score:         riskScore,
	}, nil
}

// decide 按风险分阈值决定终态
func (e *Enricher) decide(riskScore int) string {
	switch {
	case riskScore >= e.cfg.ReviewThreshold:
		return model.StatusRequiresManualReview
	case riskScore >= e.cfg.WarningThreshold:
		return model.StatusCompletedWithWarning
	default:
		return model.StatusCompleted
	}
}

func (e *Enricher) persistedResult(txn *model.Transaction) *StageResult {
	score := 0
	if txn.RiskScore != nil {
		score = *txn.RiskScore
	}
	log.Printf("[Enricher] 重复投递，返回已有结论: transactionNo=%s, status=%s", txn.TransactionNo, txn.Status)
	return &StageResult{
		TransactionNo: txn.TransactionNo,
		Outcome:       txn.Status,
		Score:         score,
	}
}
