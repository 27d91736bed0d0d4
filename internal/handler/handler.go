package handler

import (
	"errors"

	"txpipeline/internal/pipeline"
	"txpipeline/internal/repository"
	"txpipeline/internal/service"
	"txpipeline/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	intake   *service.IntakeService
	analyzer *pipeline.DLQAnalyzer
}

func NewHandler(intake *service.IntakeService, analyzer *pipeline.DLQAnalyzer) *Handler {
	return &Handler{
		intake:   intake,
		analyzer: analyzer,
	}
}

// SubmitTransaction 提交一笔交易进入流水线
func (h *Handler) SubmitTransaction(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	resp, err := h.intake.Submit(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

// GetTransaction 查询交易状态
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Query("transaction_no")
	if transactionNo == "" {
		response.ParamError(c, "transaction_no 不能为空")
		return
	}

	txn, err := h.intake.Query(c.Request.Context(), transactionNo)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			response.BusinessError(c, response.CodeTransactionNotFound, "交易不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, txn)
}

type dlqRetryRequest struct {
	TransactionNo string `json:"transaction_no" binding:"required"`
}

// RetryDLQTransaction 操作员触发死信重试
func (h *Handler) RetryDLQTransaction(c *gin.Context) {
	var req dlqRetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.analyzer.RetryTransaction(c.Request.Context(), req.TransactionNo)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRetryNotAllowed):
			response.BusinessError(c, response.CodeRetryNotAllowed, "交易已终态，禁止重试")
		case errors.Is(err, pipeline.ErrMessageNotInDLQ):
			response.BusinessError(c, response.CodeTransactionNotFound, "死信队列中未找到该交易")
		case errors.Is(err, repository.ErrTransactionNotFound):
			response.BusinessError(c, response.CodeTransactionNotFound, "交易不存在")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, gin.H{"transaction_no": req.TransactionNo, "retried": true})
}
