package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"txpipeline/internal/model"
	"txpipeline/internal/pipeline"
	"txpipeline/internal/repository"
	"txpipeline/pkg/idgen"
)

// IntakeService 接入阶段
//
// 生成交易号、落 RECEIVED 记录、向校验队列发第一条消息。
// 按业务方 request_id 幂等：重复提交返回已有交易，不重复入队。
type IntakeService struct {
	txnRepo         *repository.TransactionRepository
	validationQueue pipeline.Queue
}

func NewIntakeService(txnRepo *repository.TransactionRepository, validationQueue pipeline.Queue) *IntakeService {
	return &IntakeService{
		txnRepo:         txnRepo,
		validationQueue: validationQueue,
	}
}

type SubmitRequest struct {
	RequestID  string  `json:"request_id" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	Currency   string  `json:"currency" binding:"required"`
	MerchantID string  `json:"merchant_id" binding:"required"`
	CustomerID string  `json:"customer_id" binding:"required"`
}

type SubmitResponse struct {
	TransactionNo string `json:"transaction_no"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

func (s *IntakeService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	// 幂等校验
	existing, err := s.txnRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}
	if existing != nil {
		return &SubmitResponse{
			TransactionNo: existing.TransactionNo,
			Status:        existing.Status,
			Message:       "交易已存在",
		}, nil
	}

	txn := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		RequestID:     req.RequestID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		MerchantID:    req.MerchantID,
		CustomerID:    req.CustomerID,
		Stage:         model.StageIntake,
		Status:        model.StatusReceived,
	}
	if err := s.txnRepo.Upsert(ctx, txn); err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	msg := model.PipelineMessage{TransactionNo: txn.TransactionNo}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.validationQueue.Send(ctx, string(body)); err != nil {
		return nil, fmt.Errorf("入队失败: %w", err)
	}

	log.Printf("[Intake] 交易已接入: transactionNo=%s, amount=%.2f %s", txn.TransactionNo, req.Amount, req.Currency)

	return &SubmitResponse{
		TransactionNo: txn.TransactionNo,
		Status:        txn.Status,
	}, nil
}

// Query 查询交易当前状态
func (s *IntakeService) Query(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return s.txnRepo.Get(ctx, transactionNo)
}
