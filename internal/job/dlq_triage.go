package job

import (
	"context"
	"log"
	"time"

	"txpipeline/internal/pipeline"
)

// DLQTriageJob 周期性的死信分诊任务
//
// 只负责拉取批次并交给分析器；确认/删除由分析器按处置结果自己决定
// （未达重试上限的消息要原地保留，这里不能碰）。
type DLQTriageJob struct {
	dlq       pipeline.Queue
	analyzer  *pipeline.DLQAnalyzer
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewDLQTriageJob(dlq pipeline.Queue, analyzer *pipeline.DLQAnalyzer) *DLQTriageJob {
	return &DLQTriageJob{
		dlq:       dlq,
		analyzer:  analyzer,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 50,
	}
}

func (j *DLQTriageJob) Start(ctx context.Context) {
	log.Println("[DLQTriageJob] 死信分诊任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DLQTriageJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DLQTriageJob] 任务停止")
			return
		case <-ticker.C:
			j.triage(ctx)
		}
	}
}

func (j *DLQTriageJob) Stop() {
	close(j.stopCh)
}

func (j *DLQTriageJob) triage(ctx context.Context) {
	messages, err := j.dlq.Receive(ctx, j.batchSize)
	if err != nil {
		log.Printf("[DLQTriageJob] 拉取死信消息失败: %v", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	log.Printf("[DLQTriageJob] 本批次死信消息 %d 条", len(messages))

	summary, err := j.analyzer.Analyze(ctx, messages)
	if err != nil {
		log.Printf("[DLQTriageJob] 分诊失败: %v", err)
		return
	}
	log.Printf("[DLQTriageJob] 分诊完成: processed=%d, patterns=%d",
		summary.ProcessedCount, len(summary.FailurePatterns))
}
