package queue

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 基于 Redis Stream 的消息队列
// ============================================================================
//
// 【队列语义】
//
// 流水线需要的是 接收/发送/删除 三个原语，外加每条消息的投递次数计数：
//   - XADD           发送
//   - XREADGROUP     新消息投递（消费组内投递计数从 1 开始）
//   - XAUTOCLAIM     认领超过可见性超时仍未确认的消息 —— 即重投递
//   - XPENDING       读取每条消息的投递次数
//   - XACK + XDEL    确认并删除
//
// 【重投递 → 死信】
//
// 消息投递次数超过 maxReceive 后，由队列在投递前将其搬入死信流，
// 并在死信消息上携带原始投递次数。这是队列自身的配置行为，
// 流水线阶段代码里没有任何重试循环。
//
// ============================================================================

// Message 一次投递的消息
type Message struct {
	Body                    string // 消息体（JSON）
	ReceiptHandle           string // 确认/删除凭据（stream 条目 ID）
	ApproximateReceiveCount int    // 投递次数（近似值）
}

// StreamQueue 单个 stream 上的队列
type StreamQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	visibility time.Duration // 可见性超时：超时未确认的消息会被重新投递
	maxReceive int           // 投递次数上限，0 表示不启用死信搬运（死信流自身）
	dlqStream  string        // 超限后的搬运目标
}

// Option 队列构造选项
type Option func(*StreamQueue)

// WithRedrive 启用死信搬运：投递超过 maxReceive 次的消息移入 dlqStream
func WithRedrive(dlqStream string, maxReceive int) Option {
	return func(q *StreamQueue) {
		q.dlqStream = dlqStream
		q.maxReceive = maxReceive
	}
}

// WithVisibilityTimeout 设置可见性超时
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *StreamQueue) {
		q.visibility = d
	}
}

// NewStreamQueue 创建队列并确保消费组存在
func NewStreamQueue(client *redis.Client, stream, group, consumer string, opts ...Option) (*StreamQueue, error) {
	q := &StreamQueue{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		visibility: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}

	// 幂等建组：组已存在时 BUSYGROUP 不算错误
	err := client.XGroupCreateMkStream(context.Background(), stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, err
	}
	return q, nil
}

// Send 发送消息
func (q *StreamQueue) Send(ctx context.Context, body string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"body": body},
	}).Err()
}

// Receive 拉取一批消息
//
// 先认领超过可见性超时的未确认消息（重投递），不足再读新消息。
// 认领到的消息若投递次数超限，先搬入死信流，不会返回给调用方。
func (q *StreamQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	messages := make([]Message, 0, max)

	claimed, err := q.claimExpired(ctx, max)
	if err != nil {
		return nil, err
	}
	messages = append(messages, claimed...)

	if len(messages) < max {
		fresh, err := q.readNew(ctx, max-len(messages))
		if err != nil {
			return nil, err
		}
		messages = append(messages, fresh...)
	}

	return messages, nil
}

// Scan 非消费式浏览一批消息
//
// XRANGE 直接读流内容，不投递、不累加投递计数，也不受可见性超时影响
// （Receive 认领会把消息计入投递次数，按交易号定位消息时不能用）。
func (q *StreamQueue) Scan(ctx context.Context, max int) ([]Message, error) {
	entries, err := q.client.XRangeN(ctx, q.stream, "-", "+", int64(max)).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(entries))
	for _, m := range entries {
		messages = append(messages, q.toMessage(m, 1))
	}
	return messages, nil
}

// Delete 确认并删除消息
func (q *StreamQueue) Delete(ctx context.Context, receiptHandle string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, receiptHandle).Err(); err != nil {
		return err
	}
	return q.client.XDel(ctx, q.stream, receiptHandle).Err()
}

// claimExpired 认领超过可见性超时的 pending 消息，并执行死信搬运
func (q *StreamQueue) claimExpired(ctx context.Context, max int) ([]Message, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	counts, err := q.deliveryCounts(ctx, claimed)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		msg := q.toMessage(m, counts[m.ID])

		if q.maxReceive > 0 && msg.ApproximateReceiveCount > q.maxReceive {
			if err := q.moveToDLQ(ctx, msg); err != nil {
				log.Printf("[StreamQueue] 死信搬运失败: stream=%s, id=%s, err=%v", q.stream, msg.ReceiptHandle, err)
				continue
			}
			log.Printf("[StreamQueue] 消息投递 %d 次仍未确认，移入死信流: stream=%s, id=%s",
				msg.ApproximateReceiveCount, q.stream, msg.ReceiptHandle)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// readNew 读取尚未投递过的新消息
func (q *StreamQueue) readNew(ctx context.Context, max int) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    time.Second,
	}).Result()
	if err != nil {
		// 没有新消息时 XREADGROUP 超时返回 redis.Nil
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			messages = append(messages, q.toMessage(m, 1))
		}
	}
	return messages, nil
}

// deliveryCounts 查询一批已认领消息在消费组内的投递次数
//
// 按认领批次的 ID 区间查 pending 列表：全量查询在积压较深时会被
// Count 截断，认领消息不在结果里就会低报投递次数。区间内可能混有
// 其他消费者的条目，Count 的余量覆盖这部分。
func (q *StreamQueue) deliveryCounts(ctx context.Context, msgs []redis.XMessage) (map[string]int, error) {
	start, end := claimRange(msgs)
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  start,
		End:    end,
		Count:  int64(len(msgs)) + 64,
	}).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(pending))
	for _, p := range pending {
		counts[p.ID] = int(p.RetryCount)
	}
	return counts, nil
}

// claimRange 认领批次的 ID 闭区间，XAUTOCLAIM 按 ID 升序返回
func claimRange(msgs []redis.XMessage) (string, string) {
	return msgs[0].ID, msgs[len(msgs)-1].ID
}

// toMessage 组装投递消息
//
// 从原队列搬入死信流的消息携带 receive_count 字段，记录搬运时的
// 原始投递次数；死信流自身的再次投递在其之上累加。
func (q *StreamQueue) toMessage(m redis.XMessage, deliveries int) Message {
	if deliveries < 1 {
		deliveries = 1
	}
	body, _ := m.Values["body"].(string)

	count := deliveries
	if raw, ok := m.Values["receive_count"].(string); ok {
		if embedded, err := strconv.Atoi(raw); err == nil {
			count = embedded + deliveries - 1
		}
	}

	return Message{
		Body:                    body,
		ReceiptHandle:           m.ID,
		ApproximateReceiveCount: count,
	}
}

// moveToDLQ 将超限消息搬入死信流并从本流删除
func (q *StreamQueue) moveToDLQ(ctx context.Context, msg Message) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dlqStream,
		Values: map[string]interface{}{
			"body":          msg.Body,
			"receive_count": strconv.Itoa(msg.ApproximateReceiveCount),
			"source":        q.stream,
		},
	}).Err()
	if err != nil {
		return err
	}
	return q.Delete(ctx, msg.ReceiptHandle)
}
