package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 按交易号维度的分布式锁
// ============================================================================
//
// 【为什么流水线需要分布式锁？】
//
// 队列是至少一次投递：同一笔交易的消息可能被两个 worker 同时处理。
// 各阶段对自己字段的写入是整体覆盖，天然幂等；唯一例外是 failure_reasons
// 的追加写 —— 两个 worker 同时读改写会丢掉一方追加的原因。
// 追加操作放在按交易号维度的锁内执行，保证每键串行。
//
// 不同交易完全并行，锁粒度取交易号。
//
// ============================================================================

// ErrAcquireTimeout 重试耗尽仍未拿到锁
var ErrAcquireTimeout = errors.New("获取交易锁超时")

const (
	lockKeyPrefix = "pipeline:lock:txn:"
	lockExpiry    = 30 * time.Second // 持有者崩溃后锁自动失效
	retryInterval = 50 * time.Millisecond
	maxRetries    = 20
)

// TxnLock 单笔交易的互斥锁
type TxnLock struct {
	client *redis.Client
	key    string
	holder string // 持有者令牌，释放时验证，防止误删下一个持有者的锁
}

// ForTransaction 创建指定交易的锁，持有者令牌自动生成
func ForTransaction(client *redis.Client, transactionNo string) *TxnLock {
	return &TxnLock{
		client: client,
		key:    lockKeyPrefix + transactionNo,
		holder: uuid.NewString(),
	}
}

// Acquire 获取锁，拿不到时按固定间隔重试
//
// 加锁用 SET NX EX：NX 保证互斥，EX 防止持有者崩溃后死锁。
func (l *TxnLock) Acquire(ctx context.Context) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.client.SetNX(ctx, l.key, l.holder, lockExpiry).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return fmt.Errorf("%w: key=%s", ErrAcquireTimeout, l.key)
}

// releaseScript 验证持有者令牌后删除，检查和删除必须原子执行：
// 锁超时后持有者迟到的 Release 不能误删下一个持有者的锁
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Release 释放锁，只有当前持有者能释放成功
func (l *TxnLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err()
}
