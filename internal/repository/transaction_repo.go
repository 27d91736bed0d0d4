package repository

import (
	"context"
	"errors"
	"time"

	"txpipeline/internal/infrastructure/lock"
	"txpipeline/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrStatusInvalid       = errors.New("交易状态不合法")
)

// upsertColumns 各阶段拥有的可变列，冲突时整体覆盖
//
// 【重要】整体覆盖而不是相对增减：同一消息重复投递时，
// 无论执行顺序如何，最终都收敛到同一份字段值。
var upsertColumns = []string{
	"stage", "status", "validation_score", "risk_score", "failure_reasons",
	"merchant_country", "merchant_rating", "customer_tier",
	"dlq_status", "dlq_analysis", "completed_at", "updated_at",
}

type TransactionRepository struct {
	db          *gorm.DB
	redisClient *redis.Client
}

func NewTransactionRepository(db *gorm.DB, redisClient *redis.Client) *TransactionRepository {
	return &TransactionRepository{db: db, redisClient: redisClient}
}

func (r *TransactionRepository) Get(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// GetByRequestID 按业务方请求ID查询（接入幂等），不存在时返回 nil
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// Upsert 按交易号写入，已存在时覆盖各阶段拥有的可变列
func (r *TransactionRepository) Upsert(ctx context.Context, txn *model.Transaction) error {
	txn.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_no"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(txn).Error
}

// UpdateStatus 带流转校验的状态更新（DLQ 重试重置等场景）
func (r *TransactionRepository) UpdateStatus(ctx context.Context, transactionNo, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, fromStatus).
		Updates(map[string]interface{}{
			"status": toStatus,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// AppendFailureReasons 追加失败原因
//
// 读改写在按交易号维度的分布式锁内执行：并发 worker 对同一笔交易
// 追加原因时不会互相覆盖。
func (r *TransactionRepository) AppendFailureReasons(ctx context.Context, transactionNo string, reasons ...string) error {
	if len(reasons) == 0 {
		return nil
	}

	txnLock := lock.ForTransaction(r.redisClient, transactionNo)
	if err := txnLock.Acquire(ctx); err != nil {
		return err
	}
	defer txnLock.Release(ctx)

	txn, err := r.Get(ctx, transactionNo)
	if err != nil {
		return err
	}

	txn.FailureReasons = append(txn.FailureReasons, reasons...)
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ?", transactionNo).
		Update("failure_reasons", txn.FailureReasons).Error
}

// UpdateDLQStatus DLQ 分析器写入处置结果和分析快照
func (r *TransactionRepository) UpdateDLQStatus(ctx context.Context, transactionNo, dlqStatus string, analysis *model.DLQAnalysis) error {
	updates := map[string]interface{}{
		"dlq_status": dlqStatus,
	}
	if analysis != nil {
		updates["dlq_analysis"] = analysis
	}

	// 不检查 RowsAffected：重复投递写入相同值时 MySQL 报 0 行，
	// 不能据此判定交易不存在
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ?", transactionNo).
		Updates(updates).Error
}
