package pipeline

import (
	"context"
	"errors"

	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/model"
)

// ============================================================================
// 流水线契约
// ============================================================================
//
// 【错误即基础设施故障】
//
// 业务结论（校验失败、需要人工复核）不是错误，它们是 StageResult 里的
// 普通值，会被持久化并告警。error 通道只留给真正的基础设施故障
// （存储、队列、富化源、超时）—— 这类错误原样向上传播，由队列的
// 重投递策略决定重试，阶段代码里没有重试循环。

var (
	// ErrInvalidState 交易的当前状态不允许该阶段处理（致命，重试无意义）
	ErrInvalidState = errors.New("交易状态不允许该阶段处理")
	// ErrRetryNotAllowed 终态交易禁止重新入队
	ErrRetryNotAllowed = errors.New("交易已终态，禁止重试")
)

// TransactionStore 交易存储
// 所有写入都是按交易号的幂等 upsert；追加失败原因在每键串行下执行
type TransactionStore interface {
	Get(ctx context.Context, transactionNo string) (*model.Transaction, error)
	Upsert(ctx context.Context, txn *model.Transaction) error
	UpdateStatus(ctx context.Context, transactionNo, fromStatus, toStatus string) error
	AppendFailureReasons(ctx context.Context, transactionNo string, reasons ...string) error
	UpdateDLQStatus(ctx context.Context, transactionNo, dlqStatus string, analysis *model.DLQAnalysis) error
}

// Queue 消息队列
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, max int) ([]queue.Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// BrowseQueue 额外支持非消费式浏览的队列
// Scan 不投递、不累加投递计数，用于按交易号定位死信消息
type BrowseQueue interface {
	Queue
	Scan(ctx context.Context, max int) ([]queue.Message, error)
}

// EnrichmentSource 富化数据源
// 档案缺失时返回文档化的默认值而不是报错
type EnrichmentSource interface {
	Lookup(ctx context.Context, merchantID, customerID string) (*model.EnrichmentData, error)
}

// NotificationSink 告警通道（发布即忘，失败只记日志）
type NotificationSink interface {
	Publish(subject string, message map[string]interface{})
}

// StageResult 一次阶段处理的业务结论
type StageResult struct {
	TransactionNo string   `json:"transaction_no"`
	Outcome       string   `json:"outcome"` // 处理后的交易状态
	Score         int      `json:"score"`   // 校验得分或风险分
	Reasons       []string `json:"reasons,omitempty"`
}

// Stage 流水线阶段的公共形态：取出交易 → 处理 → 持久化 → 转发或告警
type Stage interface {
	Name() string
	Process(ctx context.Context, transactionNo string) (*StageResult, error)
}
