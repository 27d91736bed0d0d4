package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ============================================================================
// 交易状态常量
// ============================================================================
//
// 状态机只允许向前流转，唯一的例外是 DLQ 人工重试（重置回 RECEIVED 重新校验）
//
//	RECEIVED --校验通过--> VALIDATED --富化评分--> COMPLETED
//	    |                     |                  COMPLETED_WITH_WARNING
//	    |                     |                  REQUIRES_MANUAL_REVIEW
//	    +--校验失败--> VALIDATION_FAILED
//	    任意非终态 --超过重试上限--> PERMANENTLY_FAILED

const (
	StatusReceived             = "RECEIVED"
	StatusValidated            = "VALIDATED"
	StatusValidationFailed     = "VALIDATION_FAILED"
	StatusCompleted            = "COMPLETED"
	StatusCompletedWithWarning = "COMPLETED_WITH_WARNING"
	StatusRequiresManualReview = "REQUIRES_MANUAL_REVIEW"
	StatusPermanentlyFailed    = "PERMANENTLY_FAILED"
)

// 流水线阶段：记录最后一次写入该交易的阶段
const (
	StageIntake     = "INTAKE"
	StageValidation = "VALIDATION"
	StageEnrichment = "ENRICHMENT"
)

// DLQ 状态（独立于主状态机，记录死信处置结果）
const (
	DLQStatusNone              = ""
	DLQStatusInDLQ             = "IN_DLQ"
	DLQStatusPermanentlyFailed = "PERMANENTLY_FAILED"
	DLQStatusRetried           = "RETRIED"
)

// ValidStatusTransitions 合法的状态流转表
//
// 【设计】校验阶段只接受 RECEIVED，富化阶段只接受 VALIDATED，
// 其他输入状态一律视为非法状态错误。PERMANENTLY_FAILED 是 DLQ
// 分析器写入的终态，任意非终态都可以进入。
var ValidStatusTransitions = map[string][]string{
	StatusReceived:  {StatusValidated, StatusValidationFailed, StatusPermanentlyFailed},
	StatusValidated: {StatusCompleted, StatusCompletedWithWarning, StatusRequiresManualReview, StatusPermanentlyFailed},
	StatusValidationFailed: {StatusPermanentlyFailed,
		// DLQ 人工重试：重置回 RECEIVED 重新进入校验
		StatusReceived},
	StatusRequiresManualReview: {StatusPermanentlyFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 终态判断：终态交易不允许自动重新入队
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCompletedWithWarning, StatusRequiresManualReview, StatusPermanentlyFailed:
		return true
	}
	return false
}

// ============================================================================
// JSON 列类型
// ============================================================================

// StringList 以 JSON 数组存储的字符串列表（failure_reasons 列）
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return errors.New("StringList: 不支持的列类型")
}

// DLQAnalysis DLQ 分析快照，随交易一起持久化
type DLQAnalysis struct {
	ReceiveCount    int       `json:"receive_count"`
	OriginalMessage string    `json:"original_message"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

func (a DLQAnalysis) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *DLQAnalysis) Scan(value interface{}) error {
	if value == nil {
		*a = DLQAnalysis{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return errors.New("DLQAnalysis: 不支持的列类型")
}

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 交易表
// 记录一笔交易在流水线中的完整生命周期，是各阶段幂等写入的唯一共享状态
//
// 【重要】写入原则：
// 1. transaction_no 在接入时生成，之后永不变更 —— 幂等键
// 2. 每个阶段整体覆盖本阶段拥有的字段，不做相对增减 —— 重复投递收敛到同一终态
// 3. failure_reasons 只追加，追加在每键锁内完成 —— 并发写不丢原因
type Transaction struct {
	ID              int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 交易号（幂等键）
	RequestID       string       `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`     // 业务方请求ID，接入幂等
	Amount          float64      `gorm:"not null" json:"amount"`
	Currency        string       `gorm:"type:varchar(8);not null" json:"currency"`
	MerchantID      string       `gorm:"type:varchar(64);index;not null" json:"merchant_id"`
	CustomerID      string       `gorm:"type:varchar(64);index;not null" json:"customer_id"`
	Stage           string       `gorm:"type:varchar(20);not null" json:"stage"`        // 最后写入的阶段
	Status          string       `gorm:"type:varchar(32);index;not null" json:"status"` // 当前状态
	ValidationScore *int         `json:"validation_score"`                              // 校验得分（0-100）
	RiskScore       *int         `json:"risk_score"`                                    // 最终风险分（0-100）
	FailureReasons  StringList   `gorm:"type:text" json:"failure_reasons"`
	MerchantCountry string       `gorm:"type:varchar(8)" json:"merchant_country"` // 富化阶段回写
	MerchantRating  string       `gorm:"type:varchar(16)" json:"merchant_rating"`
	CustomerTier    string       `gorm:"type:varchar(16)" json:"customer_tier"`
	DLQStatus       string       `gorm:"type:varchar(32);index" json:"dlq_status"`
	DLQAnalysis     *DLQAnalysis `gorm:"type:text" json:"dlq_analysis"`
	CompletedAt     *time.Time   `json:"completed_at"`
	CreatedAt       time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "pipeline_transaction"
}
