package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/model"

	"github.com/google/uuid"
)

// unknownFailureReason 交易上没有记录失败原因时的归类桶
const unknownFailureReason = "Unknown error"

// maxPatternIDs 告警里每个失败原因最多列出的交易号个数
const maxPatternIDs = 5

// dlqScanBatch 按交易号定位死信消息时的单次扫描量
const dlqScanBatch = 100

// ============================================================================
// 死信分析器
// ============================================================================
//
// 死信消息的处置状态机：IN_DLQ → {RETRIED, PERMANENTLY_FAILED}
//
// 【批次隔离】单条消息的存储查询/更新失败只记日志并跳过，
// 绝不让一条坏记录中断整个批次的分诊；已收集到的失败模式
// 照常聚合告警。

// TriageSummary 一个批次的分诊结果
type TriageSummary struct {
	ProcessedCount  int                 `json:"processed_count"`
	FailurePatterns map[string][]string `json:"failure_patterns"` // 失败原因 → 交易号列表
}

// DLQAnalyzer 死信分析器
type DLQAnalyzer struct {
	store      TransactionStore
	dlq        BrowseQueue
	mainQueue  Queue // 人工重试时的回注目标（校验队列）
	sink       NotificationSink
	retryLimit int
}

func NewDLQAnalyzer(store TransactionStore, dlq BrowseQueue, mainQueue Queue, sink NotificationSink, retryLimit int) *DLQAnalyzer {
	return &DLQAnalyzer{
		store:      store,
		dlq:        dlq,
		mainQueue:  mainQueue,
		sink:       sink,
		retryLimit: retryLimit,
	}
}

// Analyze 分诊一批死信消息
//
// 每条消息：查交易 → 按最后一条失败原因归类 → 写入 IN_DLQ 和分析快照。
// 投递次数达到上限的交易写终态 PERMANENTLY_FAILED 并从死信队列显式删除
// （之后绝不自动重入流水线）；未达上限的消息原地保留，等待人工重试。
func (a *DLQAnalyzer) Analyze(ctx context.Context, messages []queue.Message) (*TriageSummary, error) {
	summary := &TriageSummary{
		FailurePatterns: make(map[string][]string),
	}

	for _, msg := range messages {
		if err := a.triageMessage(ctx, msg, summary); err != nil {
			log.Printf("[DLQAnalyzer] 消息分诊失败，跳过: id=%s, err=%v", msg.ReceiptHandle, err)
			continue
		}
		summary.ProcessedCount++
	}

	if len(summary.FailurePatterns) > 0 {
		a.publishPatternAlert(summary)
	}

	return summary, nil
}

func (a *DLQAnalyzer) triageMessage(ctx context.Context, msg queue.Message, summary *TriageSummary) error {
	var pm model.PipelineMessage
	if err := json.Unmarshal([]byte(msg.Body), &pm); err != nil || pm.TransactionNo == "" {
		return fmt.Errorf("死信消息体无法解析: %v", err)
	}

	txn, err := a.store.Get(ctx, pm.TransactionNo)
	if err != nil {
		return fmt.Errorf("查询交易失败: %w", err)
	}

	// 已终态的交易：上一轮写完终态但删除消息失败的残留，直接清理
	if txn.Status == model.StatusPermanentlyFailed {
		return a.dlq.Delete(ctx, msg.ReceiptHandle)
	}

	reason := unknownFailureReason
	if len(txn.FailureReasons) > 0 {
		reason = txn.FailureReasons[len(txn.FailureReasons)-1]
	}
	summary.FailurePatterns[reason] = append(summary.FailurePatterns[reason], txn.TransactionNo)

	// 无论后续处置如何，先落 IN_DLQ 和分析快照
	analysis := &model.DLQAnalysis{
		ReceiveCount:    msg.ApproximateReceiveCount,
		OriginalMessage: msg.Body,
		AnalyzedAt:      time.Now(),
	}
	if err := a.store.UpdateDLQStatus(ctx, txn.TransactionNo, model.DLQStatusInDLQ, analysis); err != nil {
		return fmt.Errorf("写入死信状态失败: %w", err)
	}

	if msg.ApproximateReceiveCount >= a.retryLimit {
		return a.markPermanentlyFailed(ctx, txn, msg)
	}

	// 未达重试上限：消息原地保留，等操作员触发 RetryMessage
	log.Printf("[DLQAnalyzer] 死信保留待人工重试: transactionNo=%s, receiveCount=%d",
		txn.TransactionNo, msg.ApproximateReceiveCount)
	return nil
}

// markPermanentlyFailed 超过重试上限的终态处置
func (a *DLQAnalyzer) markPermanentlyFailed(ctx context.Context, txn *model.Transaction, msg queue.Message) error {
	finalReason := fmt.Sprintf("exceeded retry limit after %d attempts", msg.ApproximateReceiveCount)
	if err := a.store.AppendFailureReasons(ctx, txn.TransactionNo, finalReason); err != nil {
		return fmt.Errorf("追加失败原因失败: %w", err)
	}

	if err := a.store.UpdateStatus(ctx, txn.TransactionNo, txn.Status, model.StatusPermanentlyFailed); err != nil {
		return fmt.Errorf("写入终态失败: %w", err)
	}
	if err := a.store.UpdateDLQStatus(ctx, txn.TransactionNo, model.DLQStatusPermanentlyFailed, nil); err != nil {
		return fmt.Errorf("写入死信处置状态失败: %w", err)
	}

	// 显式删除：终态交易的消息绝不允许再被自动处理
	if err := a.dlq.Delete(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("删除死信消息失败: %w", err)
	}

	log.Printf("[DLQAnalyzer] 交易超过重试上限，已永久失败: transactionNo=%s, receiveCount=%d",
		txn.TransactionNo, msg.ApproximateReceiveCount)
	return nil
}

// publishPatternAlert 按失败原因聚合成一条告警，避免一笔一报
func (a *DLQAnalyzer) publishPatternAlert(summary *TriageSummary) {
	patterns := make(map[string]interface{}, len(summary.FailurePatterns))
	for reason, ids := range summary.FailurePatterns {
		listed := ids
		suffix := ""
		if len(ids) > maxPatternIDs {
			listed = ids[:maxPatternIDs]
			suffix = fmt.Sprintf("(and %d more)", len(ids)-maxPatternIDs)
		}
		patterns[reason] = map[string]interface{}{
			"count":        len(ids),
			"transactions": listed,
			"more":         suffix,
		}
	}

	a.sink.Publish("dlq.failure.patterns", map[string]interface{}{
		"processed_count": summary.ProcessedCount,
		"patterns":        patterns,
	})
}

// RetryMessage 操作员触发的人工重试
//
// 将死信消息带重试元数据和新去重令牌回注到校验队列，并从死信队列删除。
// 终态交易（PERMANENTLY_FAILED）一律拒绝。
func (a *DLQAnalyzer) RetryMessage(ctx context.Context, msg queue.Message) error {
	var pm model.PipelineMessage
	if err := json.Unmarshal([]byte(msg.Body), &pm); err != nil || pm.TransactionNo == "" {
		return fmt.Errorf("死信消息体无法解析: %v", err)
	}

	txn, err := a.store.Get(ctx, pm.TransactionNo)
	if err != nil {
		return fmt.Errorf("查询交易失败: %w", err)
	}

	if txn.Status == model.StatusPermanentlyFailed || txn.DLQStatus == model.DLQStatusPermanentlyFailed {
		return fmt.Errorf("%w: transactionNo=%s", ErrRetryNotAllowed, txn.TransactionNo)
	}

	// 校验失败的交易重置回 RECEIVED 重新进入校验；
	// 已是 RECEIVED/VALIDATED 的交易（基础设施故障进的死信）直接回注，
	// 校验阶段的幂等保证重复处理安全
	if txn.Status == model.StatusValidationFailed {
		if err := a.store.UpdateStatus(ctx, txn.TransactionNo, model.StatusValidationFailed, model.StatusReceived); err != nil {
			return fmt.Errorf("重置交易状态失败: %w", err)
		}
	}

	retryMsg := model.PipelineMessage{
		TransactionNo: txn.TransactionNo,
		RetryToken:    uuid.NewString(),
		RetryOfStage:  txn.Stage,
	}
	body, err := json.Marshal(retryMsg)
	if err != nil {
		return err
	}
	if err := a.mainQueue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("回注校验队列失败: %w", err)
	}

	if err := a.dlq.Delete(ctx, msg.ReceiptHandle); err != nil {
		return fmt.Errorf("删除死信消息失败: %w", err)
	}

	if err := a.store.UpdateDLQStatus(ctx, txn.TransactionNo, model.DLQStatusRetried, nil); err != nil {
		log.Printf("[DLQAnalyzer] 更新死信处置状态失败: transactionNo=%s, err=%v", txn.TransactionNo, err)
	}

	log.Printf("[DLQAnalyzer] 死信已回注重试: transactionNo=%s", txn.TransactionNo)
	return nil
}

// ErrMessageNotInDLQ 死信队列中找不到指定交易的消息
var ErrMessageNotInDLQ = errors.New("死信队列中未找到该交易的消息")

// RetryTransaction 按交易号在死信队列中定位消息并重试（操作员入口）
//
// 定位用非消费式浏览：Receive 认领会把整批消息的投递计数推向终态
// 阈值，还看不到可见性超时内的消息（操作员会收到虚假的"未找到"）。
func (a *DLQAnalyzer) RetryTransaction(ctx context.Context, transactionNo string) error {
	messages, err := a.dlq.Scan(ctx, dlqScanBatch)
	if err != nil {
		return fmt.Errorf("读取死信队列失败: %w", err)
	}

	for _, msg := range messages {
		var pm model.PipelineMessage
		if err := json.Unmarshal([]byte(msg.Body), &pm); err != nil {
			continue
		}
		if pm.TransactionNo == transactionNo {
			return a.RetryMessage(ctx, msg)
		}
	}
	return fmt.Errorf("%w: transactionNo=%s", ErrMessageNotInDLQ, transactionNo)
}
