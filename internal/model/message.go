package model

// PipelineMessage 队列消息体（JSON）
// 各跳的最小字段是 transaction_no；校验→富化一跳额外携带状态标记和校验得分
type PipelineMessage struct {
	TransactionNo   string `json:"transactionId"`
	Status          string `json:"status,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
	ValidationScore *int   `json:"validationScore,omitempty"`
	// DLQ 人工重试时携带
	RetryToken   string `json:"retryToken,omitempty"`
	RetryOfStage string `json:"retryOfStage,omitempty"`
}

// 消息状态标记
const (
	MessageStatusReadyForEnrichment = "READY_FOR_ENRICHMENT"
)
