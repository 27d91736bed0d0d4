package job

import (
	"context"
	"testing"

	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/model"
	"txpipeline/internal/pipeline"
	"txpipeline/internal/repository"
)

type triageStore struct {
	txns map[string]*model.Transaction
}

func (s *triageStore) Get(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	txn, ok := s.txns[transactionNo]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

func (s *triageStore) Upsert(ctx context.Context, txn *model.Transaction) error {
	copied := *txn
	s.txns[txn.TransactionNo] = &copied
	return nil
}

func (s *triageStore) UpdateStatus(ctx context.Context, transactionNo, fromStatus, toStatus string) error {
	txn, ok := s.txns[transactionNo]
	if !ok || !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrStatusInvalid
	}
	txn.Status = toStatus
	return nil
}

func (s *triageStore) AppendFailureReasons(ctx context.Context, transactionNo string, reasons ...string) error {
	txn, ok := s.txns[transactionNo]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	txn.FailureReasons = append(txn.FailureReasons, reasons...)
	return nil
}

func (s *triageStore) UpdateDLQStatus(ctx context.Context, transactionNo, dlqStatus string, analysis *model.DLQAnalysis) error {
	txn, ok := s.txns[transactionNo]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	txn.DLQStatus = dlqStatus
	if analysis != nil {
		txn.DLQAnalysis = analysis
	}
	return nil
}

type noopSink struct{}

func (noopSink) Publish(subject string, message map[string]interface{}) {}

func newTriageFixture(receiveCount int) (*DLQTriageJob, *triageStore, *fakeQueue) {
	store := &triageStore{txns: map[string]*model.Transaction{
		"TXN901": {
			TransactionNo:  "TXN901",
			Status:         model.StatusValidationFailed,
			Stage:          model.StageValidation,
			FailureReasons: []string{"Merchant id must be at least 5 characters"},
		},
	}}
	dlq := &fakeQueue{
		pending: []queue.Message{{
			Body:                    `{"transactionId": "TXN901"}`,
			ReceiptHandle:           "9-0",
			ApproximateReceiveCount: receiveCount,
		}},
	}
	analyzer := pipeline.NewDLQAnalyzer(store, dlq, &fakeQueue{}, noopSink{}, 5)
	return NewDLQTriageJob(dlq, analyzer), store, dlq
}

func TestTriageLeavesRetryableMessageInPlace(t *testing.T) {
	// 确认/删除由分析器按处置结果决定；未达重试上限的消息
	// 任务自己绝不能删，否则人工重试没有对象
	job, store, dlq := newTriageFixture(4)

	job.triage(context.Background())

	if len(dlq.deleted) != 0 {
		t.Fatalf("未达上限的死信不应删除: deleted=%v", dlq.deleted)
	}
	if store.txns["TXN901"].DLQStatus != model.DLQStatusInDLQ {
		t.Fatalf("DLQStatus = %s, want IN_DLQ", store.txns["TXN901"].DLQStatus)
	}
}

func TestTriageDeletesOnlyViaAnalyzerDisposition(t *testing.T) {
	job, store, dlq := newTriageFixture(5)

	job.triage(context.Background())

	// 达到上限：分析器写终态并删除，任务不额外处理
	if len(dlq.deleted) != 1 || dlq.deleted[0] != "9-0" {
		t.Fatalf("deleted = %v", dlq.deleted)
	}
	if store.txns["TXN901"].Status != model.StatusPermanentlyFailed {
		t.Fatalf("Status = %s, want PERMANENTLY_FAILED", store.txns["TXN901"].Status)
	}
}
