package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"txpipeline/internal/config"
	"txpipeline/internal/model"
)

// Validator 校验阶段
//
// 输入状态只接受 RECEIVED。每条业务规则独立扣分（起始 100 分），
// 大额预检独立于规则分，触发即要求人工复核。校验失败是本阶段的
// 正常业务结论，不是错误；只有存储/队列故障才走 error 通道。
type Validator struct {
	store       TransactionStore
	enrichQueue Queue
	sink        NotificationSink
	cfg         *config.BusinessConfig
}

func NewValidator(store TransactionStore, enrichQueue Queue, sink NotificationSink, cfg *config.BusinessConfig) *Validator {
	return &Validator{
		store:       store,
		enrichQueue: enrichQueue,
		sink:        sink,
		cfg:         cfg,
	}
}

func (v *Validator) Name() string {
	return "Validator"
}

func (v *Validator) Process(ctx context.Context, transactionNo string) (*StageResult, error) {
	txn, err := v.store.Get(ctx, transactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}

	// 幂等：重复投递已校验过的交易时，直接返回已持久化的结论，
	// 不做第二次扣分
	switch txn.Status {
	case model.StatusReceived:
		// 正常入口
	case model.StatusPermanentlyFailed:
		return nil, fmt.Errorf("%w: transactionNo=%s, status=%s", ErrInvalidState, transactionNo, txn.Status)
	case model.StatusValidated:
		// 已校验通过但消息被重复投递：可能是上次持久化之后、转发之前
		// 发生了故障。重新转发一次，富化阶段的幂等保证重复消息无害。
		result := v.persistedResult(txn)
		if err := v.forward(ctx, txn, result.Score); err != nil {
			return nil, fmt.Errorf("转发富化消息失败: %w", err)
		}
		return result, nil
	default:
		return v.persistedResult(txn), nil
	}

	score, reasons := v.applyRules(txn)
	flagged, fraudReason := v.highValueCheck(txn)
	if flagged {
		reasons = append(reasons, fraudReason)
	}

	status := model.StatusValidated
	if len(reasons) > 0 {
		status = model.StatusValidationFailed
	}

	txn.Stage = model.StageValidation
	txn.Status = status
	txn.ValidationScore = &score
	txn.FailureReasons = reasons
	if err := v.store.Upsert(ctx, txn); err != nil {
		return nil, fmt.Errorf("持久化校验结果失败: %w", err)
	}

	if status == model.StatusValidated {
		if err := v.forward(ctx, txn, score); err != nil {
			return nil, fmt.Errorf("转发富化消息失败: %w", err)
		}
		log.Printf("[Validator] 校验通过: transactionNo=%s, score=%d", transactionNo, score)
	} else {
		// 校验失败只告警一次，消息留给队列的重投递策略，本阶段不重试
		v.sink.Publish("transaction.validation.failed", map[string]interface{}{
			"transaction_no": transactionNo,
			"score":          score,
			"reasons":        reasons,
		})
		log.Printf("[Validator] 校验失败: transactionNo=%s, score=%d, reasons=%v", transactionNo, score, reasons)
	}

	return &StageResult{
		TransactionNo: transactionNo,
		Outcome:       status,
		Score:         score,
		Reasons:       reasons,
	}, nil
}

// applyRules 逐条应用业务规则，从 100 分开始扣
func (v *Validator) applyRules(txn *model.Transaction) (int, []string) {
	score := 100
	var reasons []string

	if txn.Amount > v.cfg.AmountCeiling {
		score -= 50
		reasons = append(reasons, fmt.Sprintf("Amount exceeds limit of %s", formatAmount(v.cfg.AmountCeiling)))
	}

	if !v.currencyAllowed(txn.Currency) {
		score -= 30
		reasons = append(reasons, fmt.Sprintf("Currency %s is not in the allowed list", txn.Currency))
	}

	if len(txn.MerchantID) < 5 {
		score -= 20
		reasons = append(reasons, "Merchant id must be at least 5 characters")
	}

	if len(txn.CustomerID) < 5 {
		score -= 20
		reasons = append(reasons, "Customer id must be at least 5 characters")
	}

	if score < 0 {
		score = 0
	}
	return score, reasons
}

// highValueCheck 大额预检
//
// 独立于规则扣分的粗粒度欺诈信号，阈值与富化阶段的金额权重
// 是两条不同的规则，各自配置、互不合并。
func (v *Validator) highValueCheck(txn *model.Transaction) (bool, string) {
	if txn.Amount > v.cfg.HighValueThreshold {
		return true, fmt.Sprintf("High-value transaction requires manual review (amount > %s)", formatAmount(v.cfg.HighValueThreshold))
	}
	return false, ""
}

func (v *Validator) currencyAllowed(currency string) bool {
	for _, c := range v.cfg.AllowedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// forward 向富化队列转发消息
func (v *Validator) forward(ctx context.Context, txn *model.Transaction, score int) error {
	msg := model.PipelineMessage{
		TransactionNo:   txn.TransactionNo,
		Status:          model.MessageStatusReadyForEnrichment,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		ValidationScore: &score,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return v.enrichQueue.Send(ctx, string(body))
}

// persistedResult 把已持久化的校验结论还原成 StageResult
func (v *Validator) persistedResult(txn *model.Transaction) *StageResult {
	score := 0
	if txn.ValidationScore != nil {
		score = *txn.ValidationScore
	}
	log.Printf("[Validator] 重复投递，返回已有结论: transactionNo=%s, status=%s", txn.TransactionNo, txn.Status)
	return &StageResult{
		TransactionNo: txn.TransactionNo,
		Outcome:       txn.Status,
		Score:         score,
		Reasons:       txn.FailureReasons,
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
