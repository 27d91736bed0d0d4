package job

import (
	"context"
	"log"
	"time"

	"txpipeline/internal/infrastructure/queue"
	"txpipeline/internal/model"
	"txpipeline/internal/pipeline"
)

// StageWorker 阶段消费 worker
//
// 轮询一个队列，把消息分发给对应的流水线阶段：
//   - 处理成功（终态或通过）→ 确认删除
//   - 校验失败 → 不确认，留给队列重投递，最终由 redrive 搬入死信流分诊
//   - 消息无法解析 → 分发器已丢弃 → 确认删除（重试永远不会成功）
//   - 基础设施故障 → 不确认，留给队列按可见性超时重投递
type StageWorker struct {
	name      string
	queue     pipeline.Queue
	consumer  *pipeline.Consumer
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	timeout   time.Duration // 单条消息的处理超时
}

func NewStageWorker(name string, queue pipeline.Queue, consumer *pipeline.Consumer) *StageWorker {
	return &StageWorker{
		name:      name,
		queue:     queue,
		consumer:  consumer,
		stopCh:    make(chan struct{}),
		interval:  time.Second,
		batchSize: 16,
		timeout:   30 * time.Second,
	}
}

func (w *StageWorker) Start(ctx context.Context) {
	log.Printf("[%s] 阶段 worker 启动", w.name)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] 收到停止信号，任务退出", w.name)
			return
		case <-w.stopCh:
			log.Printf("[%s] 任务停止", w.name)
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *StageWorker) Stop() {
	close(w.stopCh)
}

func (w *StageWorker) poll(ctx context.Context) {
	messages, err := w.queue.Receive(ctx, w.batchSize)
	if err != nil {
		log.Printf("[%s] 拉取消息失败: %v", w.name, err)
		return
	}

	for _, msg := range messages {
		w.handle(ctx, msg)
	}
}

func (w *StageWorker) handle(ctx context.Context, msg queue.Message) {
	// 每条消息独立超时：外部调用挂死不能拖住整个批次
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, err := w.consumer.Dispatch(ctx, msg.Body)
	if err != nil {
		// 不确认：消息留在队列里，由重投递策略决定重试
		log.Printf("[%s] 处理失败，留待重投递: id=%s, receiveCount=%d, err=%v",
			w.name, msg.ReceiptHandle, msg.ApproximateReceiveCount, err)
		return
	}

	// 校验失败的消息不确认：重投递超限后由队列搬入死信流，
	// 进入分诊和人工重试。重复投递安全：校验阶段幂等返回已有结论，
	// 不会二次扣分或重复告警。
	if result != nil && result.Outcome == model.StatusValidationFailed {
		log.Printf("[%s] 业务校验失败，留待死信搬运: transactionNo=%s, receiveCount=%d",
			w.name, result.TransactionNo, msg.ApproximateReceiveCount)
		return
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		log.Printf("[%s] 确认消息失败: id=%s, err=%v", w.name, msg.ReceiptHandle, err)
		return
	}
	if result != nil {
		log.Printf("[%s] 消息处理完成: transactionNo=%s, outcome=%s", w.name, result.TransactionNo, result.Outcome)
	}
}
