package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"txpipeline/internal/config"
	"txpipeline/internal/model"
	"txpipeline/internal/repository"
)

func testBusinessConfig() *config.BusinessConfig {
	return &config.BusinessConfig{
		AmountCeiling:       10000,
		HighValueThreshold:  5000,
		AllowedCurrencies:   []string{"USD", "EUR"},
		HomeCountry:         "US",
		WarningThreshold:    50,
		ReviewThreshold:     75,
		DLQRetryLimit:       5,
		ExternalTimeoutSecs: 5,
	}
}

func receivedTxn(no string, amount float64, currency, merchantID, customerID string) *model.Transaction {
	return &model.Transaction{
		TransactionNo: no,
		Amount:        amount,
		Currency:      currency,
		MerchantID:    merchantID,
		CustomerID:    customerID,
		Stage:         model.StageIntake,
		Status:        model.StatusReceived,
	}
}

func TestValidateCleanTransaction(t *testing.T) {
	store := newFakeStore(receivedTxn("TXN001", 150, "USD", "MERCH01", "CUST01"))
	enrichQueue := &fakeQueue{}
	sink := &fakeSink{}
	v := NewValidator(store, enrichQueue, sink, testBusinessConfig())

	result, err := v.Process(context.Background(), "TXN001")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != model.StatusValidated {
		t.Fatalf("Outcome = %s, want VALIDATED", result.Outcome)
	}
	if result.Score != 100 {
		t.Fatalf("Score = %d, want 100", result.Score)
	}

	// 持久化检查
	txn := store.txns["TXN001"]
	if txn.Status != model.StatusValidated || txn.Stage != model.StageValidation {
		t.Fatalf("持久化状态 = %s/%s", txn.Status, txn.Stage)
	}
	if txn.ValidationScore == nil || *txn.ValidationScore != 100 {
		t.Fatalf("ValidationScore = %v, want 100", txn.ValidationScore)
	}

	// 转发消息检查
	if len(enrichQueue.sent) != 1 {
		t.Fatalf("转发消息数 = %d, want 1", len(enrichQueue.sent))
	}
	var msg model.PipelineMessage
	if err := json.Unmarshal([]byte(enrichQueue.sent[0]), &msg); err != nil {
		t.Fatalf("转发消息解析失败: %v", err)
	}
	if msg.TransactionNo != "TXN001" || msg.Status != model.MessageStatusReadyForEnrichment {
		t.Fatalf("转发消息 = %+v", msg)
	}
	if msg.ValidationScore == nil || *msg.ValidationScore != 100 {
		t.Fatalf("转发消息 validationScore = %v", msg.ValidationScore)
	}
	if msg.Timestamp == "" {
		t.Fatal("转发消息缺少 timestamp")
	}

	// 校验通过不告警
	if len(sink.alerts) != 0 {
		t.Fatalf("不应产生告警: %v", sink.subjects())
	}
}

func TestValidateAmountOverCeiling(t *testing.T) {
	store := newFakeStore(receivedTxn("TXN002", 15000, "USD", "MERCH01", "CUST01"))
	enrichQueue := &fakeQueue{}
	sink := &fakeSink{}
	v := NewValidator(store, enrichQueue, sink, testBusinessConfig())

	result, err := v.Process(context.Background(), "TXN002")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != model.StatusValidationFailed {
		t.Fatalf("Outcome = %s, want VALIDATION_FAILED", result.Outcome)
	}
	if result.Score != 50 {
		t.Fatalf("Score = %d, want 50", result.Score)
	}

	// 超限扣分原因 + 大额预检原因，两条都要有
	if err := mustContain(result.Reasons, "Amount exceeds limit of 10000"); err != nil {
		t.Fatal(err)
	}
	if err := mustContain(result.Reasons, "High-value transaction requires manual review (amount > 5000)"); err != nil {
		t.Fatal(err)
	}

	// 失败不转发，但要告警一次
	if len(enrichQueue.sent) != 0 {
		t.Fatalf("失败不应转发: %v", enrichQueue.sent)
	}
	if err := mustContain(sink.subjects(), "transaction.validation.failed"); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("告警数 = %d, want 1", len(sink.alerts))
	}
}

func TestValidateRuleDeductions(t *testing.T) {
	cases := []struct {
		name        string
		txn         *model.Transaction
		wantScore   int
		wantOutcome string
	}{
		{
			name:        "币种不在白名单",
			txn:         receivedTxn("T1", 150, "JPY", "MERCH01", "CUST01"),
			wantScore:   70,
			wantOutcome: model.StatusValidationFailed,
		},
		{
			name:        "商户号过短",
			txn:         receivedTxn("T2", 150, "USD", "M1", "CUST01"),
			wantScore:   80,
			wantOutcome: model.StatusValidationFailed,
		},
		{
			name:        "商户号客户号都过短",
			txn:         receivedTxn("T3", 150, "USD", "M1", "C1"),
			wantScore:   60,
			wantOutcome: model.StatusValidationFailed,
		},
		{
			name:        "所有规则同时违反扣到保底0",
			txn:         receivedTxn("T4", 20000, "JPY", "", ""),
			wantScore:   0,
			wantOutcome: model.StatusValidationFailed,
		},
		{
			name:        "大额预检独立于规则分",
			txn:         receivedTxn("T5", 6000, "USD", "MERCH01", "CUST01"),
			wantScore:   100,
			wantOutcome: model.StatusValidationFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore(tc.txn)
			v := NewValidator(store, &fakeQueue{}, &fakeSink{}, testBusinessConfig())

			result, err := v.Process(context.Background(), tc.txn.TransactionNo)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if result.Outcome != tc.wantOutcome {
				t.Fatalf("Outcome = %s, want %s", result.Outcome, tc.wantOutcome)
			}
			if result.Score != tc.wantScore {
				t.Fatalf("Score = %d, want %d", result.Score, tc.wantScore)
			}
		})
	}
}

func TestValidateIdempotentOnRedelivery(t *testing.T) {
	store := newFakeStore(receivedTxn("TXN003", 150, "USD", "MERCH01", "CUST01"))
	enrichQueue := &fakeQueue{}
	v := NewValidator(store, enrichQueue, &fakeSink{}, testBusinessConfig())

	first, err := v.Process(context.Background(), "TXN003")
	if err != nil {
		t.Fatalf("第一次 Process: %v", err)
	}
	second, err := v.Process(context.Background(), "TXN003")
	if err != nil {
		t.Fatalf("第二次 Process: %v", err)
	}

	// 重复投递返回同样的结论，不做第二次扣分
	if second.Outcome != first.Outcome || second.Score != first.Score {
		t.Fatalf("重复投递结论不一致: first=%+v second=%+v", first, second)
	}
	// 只持久化一次
	if store.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}
	// 重复投递会重新转发（富化阶段幂等，宁可重发不可漏发）
	if len(enrichQueue.sent) != 2 {
		t.Fatalf("转发消息数 = %d, want 2", len(enrichQueue.sent))
	}
}

func TestValidateFailedTransactionIdempotent(t *testing.T) {
	store := newFakeStore(receivedTxn("TXN004", 15000, "USD", "MERCH01", "CUST01"))
	sink := &fakeSink{}
	v := NewValidator(store, &fakeQueue{}, sink, testBusinessConfig())

	if _, err := v.Process(context.Background(), "TXN004"); err != nil {
		t.Fatalf("第一次 Process: %v", err)
	}
	result, err := v.Process(context.Background(), "TXN004")
	if err != nil {
		t.Fatalf("第二次 Process: %v", err)
	}
	if result.Outcome != model.StatusValidationFailed {
		t.Fatalf("Outcome = %s", result.Outcome)
	}
	// 告警只发一次
	if len(sink.alerts) != 1 {
		t.Fatalf("告警数 = %d, want 1", len(sink.alerts))
	}
}

func TestValidateMissingTransaction(t *testing.T) {
	v := NewValidator(newFakeStore(), &fakeQueue{}, &fakeSink{}, testBusinessConfig())

	_, err := v.Process(context.Background(), "TXN404")
	if !errors.Is(err, repository.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestValidatePermanentlyFailedRejected(t *testing.T) {
	txn := receivedTxn("TXN005", 150, "USD", "MERCH01", "CUST01")
	txn.Status = model.StatusPermanentlyFailed
	v := NewValidator(newFakeStore(txn), &fakeQueue{}, &fakeSink{}, testBusinessConfig())

	_, err := v.Process(context.Background(), "TXN005")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestValidateQueueFailurePropagates(t *testing.T) {
	store := newFakeStore(receivedTxn("TXN006", 150, "USD", "MERCH01", "CUST01"))
	enrichQueue := &fakeQueue{sendErr: errInfra}
	v := NewValidator(store, enrichQueue, &fakeSink{}, testBusinessConfig())

	_, err := v.Process(context.Background(), "TXN006")
	if !errors.Is(err, errInfra) {
		t.Fatalf("err = %v, want errInfra", err)
	}
}
