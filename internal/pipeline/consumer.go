package pipeline

import (
	"context"
	"encoding/json"
	"log"

	"txpipeline/internal/model"
)

// Consumer 队列消息到阶段调用的分发器
//
// 消息体有两种形态，最终归并到同一个阶段调用：
//  1. 队列投递的信封：{"body": "{\"transactionId\": ...}"}
//  2. 直接调用载荷：{"transactionId": ...}
//
// 【唯一的主动丢弃】连 JSON 都解析不出来的消息重试永远不会成功，
// 在这里丢弃（返回 nil 结果、nil 错误，调用方确认删除），绝不重投递。
// 其余一切处理失败都原样传播，交给队列的重投递策略。
type Consumer struct {
	stage Stage
}

func NewConsumer(stage Stage) *Consumer {
	return &Consumer{stage: stage}
}

// Dispatch 解码消息并调用阶段
// 返回 (nil, nil) 表示消息无法解析、已被丢弃
func (c *Consumer) Dispatch(ctx context.Context, body string) (*StageResult, error) {
	transactionNo, ok := c.decode(body)
	if !ok {
		log.Printf("[Consumer] 消息无法解析，丢弃: stage=%s, body=%q", c.stage.Name(), truncate(body, 256))
		return nil, nil
	}
	return c.stage.Process(ctx, transactionNo)
}

// decode 从信封或直接载荷中解析交易号
func (c *Consumer) decode(body string) (string, bool) {
	var msg model.PipelineMessage
	if err := json.Unmarshal([]byte(body), &msg); err == nil && msg.TransactionNo != "" {
		return msg.TransactionNo, true
	}

	// 信封形态：body 字段里再嵌一层 JSON
	var envelope struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil || envelope.Body == "" {
		return "", false
	}
	if err := json.Unmarshal([]byte(envelope.Body), &msg); err != nil || msg.TransactionNo == "" {
		return "", false
	}
	return msg.TransactionNo, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
