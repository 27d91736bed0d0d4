package pipeline

import (
	"context"
	"errors"
	"fmt"

	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/model"
	"txpipeline/internal/repository"
)

// 协作方的内存替身，行为对齐真实实现的契约

type fakeStore struct {
	txns       map[string]*model.Transaction
	getErr     error
	upsertErr  error
	updateErrs map[string]error // transactionNo → UpdateStatus/UpdateDLQStatus 注入错误
	upserts    int
}

func newFakeStore(txns ...*model.Transaction) *fakeStore {
	s := &fakeStore{
		txns:       make(map[string]*model.Transaction),
		updateErrs: make(map[string]error),
	}
	for _, txn := range txns {
		s.txns[txn.TransactionNo] = txn
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	txn, ok := s.txns[transactionNo]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

func (s *fakeStore) Upsert(ctx context.Context, txn *model.Transaction) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	copied := *txn
	s.txns[txn.TransactionNo] = &copied
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, transactionNo, fromStatus, toStatus string) error {
	if err := s.updateErrs[transactionNo]; err != nil {
		return err
	}
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrStatusInvalid
	}
	txn, ok := s.txns[transactionNo]
	if !ok || txn.Status != fromStatus {
		return repository.ErrStatusInvalid
	}
	txn.Status = toStatus
	return nil
}

func (s *fakeStore) AppendFailureReasons(ctx context.Context, transactionNo string, reasons ...string) error {
	txn, ok := s.txns[transactionNo]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	txn.FailureReasons = append(txn.FailureReasons, reasons...)
	return nil
}

func (s *fakeStore) UpdateDLQStatus(ctx context.Context, transactionNo, dlqStatus string, analysis *model.DLQAnalysis) error {
	if err := s.updateErrs[transactionNo]; err != nil {
		return err
	}
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

type fakeQueue struct {
	pending      []queue.Message
	sent         []string
	deleted      []string
	sendErr      error
	recvErr      error
	receiveCalls int
	scanCalls    int
}

func (q *fakeQueue) Send(ctx context.Context, body string) error {
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, body)
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	q.receiveCalls++
	if q.recvErr != nil {
		return nil, q.recvErr
	}
	if len(q.pending) <= max {
		return q.pending, nil
	}
	return q.pending[:max], nil
}

func (q *fakeQueue) Scan(ctx context.Context, max int) ([]queue.Message, error) {
	q.scanCalls++
	if q.recvErr != nil {
		return nil, q.recvErr
	}
	if len(q.pending) <= max {
		return q.pending, nil
	}
	return q.pending[:max], nil
}

func (q *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

func (q *fakeQueue) wasDeleted(receiptHandle string) bool {
	for _, id := range q.deleted {
		if id == receiptHandle {
			return true
		}
	}
	return false
}

type publishedAlert struct {
	subject string
	message map[string]interface{}
}

type fakeSink struct {
	alerts []publishedAlert
}

func (s *fakeSink) Publish(subject string, message map[string]interface{}) {
	s.alerts = append(s.alerts, publishedAlert{subject: subject, message: message})
}

func (s *fakeSink) subjects() []string {
	var out []string
	for _, a := range s.alerts {
		out = append(out, a.subject)
	}
	return out
}

type fakeSource struct {
	data    *model.EnrichmentData
	err     error
	lookups int
}

func (f *fakeSource) Lookup(ctx context.Context, merchantID, customerID string) (*model.EnrichmentData, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return &model.EnrichmentData{
		MerchantCountry:    "US",
		MerchantRiskRating: model.MerchantRatingLow,
		CustomerTier:       model.CustomerTierStandard,
	}, nil
}

// stubStage 记录调用并返回预设结果的阶段替身
type stubStage struct {
	calls  []string
	result *StageResult
	err    error
}

func (s *stubStage) Name() string { return "StubStage" }

func (s *stubStage) Process(ctx context.Context, transactionNo string) (*StageResult, error) {
	s.calls = append(s.calls, transactionNo)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &StageResult{TransactionNo: transactionNo, Outcome: model.StatusValidated}, nil
}

var errInfra = errors.New("基础设施故障")

func mustContain(list []string, want string) error {
	for _, s := range list {
		if s == want {
			return nil
		}
	}
	return fmt.Errorf("%q 不在 %v 中", want, list)
}
