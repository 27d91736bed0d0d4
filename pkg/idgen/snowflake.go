package idgen

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ============================================================================
// 交易号生成
// ============================================================================
//
// 流水线以交易号作为幂等键：同一交易号的写入整体覆盖，队列重复投递
// 才能安全。因此交易号必须全局唯一，且在多实例部署下不经协调即可生成。
//
// 底层用雪花算法（64位 = 41位毫秒时间戳 + 10位实例ID + 12位毫秒内序列），
// 趋势递增利于 transaction_no 上的唯一索引。
//
// ============================================================================

const (
	// 计时起点 2024-01-01 00:00:00 UTC，可用约 69 年
	customEpoch = int64(1704067200000)

	instanceBits = 10
	seqBits      = 12

	maxInstanceID = -1 ^ (-1 << instanceBits)
	seqMask       = -1 ^ (-1 << seqBits)

	instanceShift = seqBits
	stampShift    = seqBits + instanceBits
)

// Generator 进程内的雪花ID生成器
type Generator struct {
	mu         sync.Mutex
	lastStamp  int64
	instanceID int64
	seq        int64
}

var (
	defaultGen *Generator
	initOnce   sync.Once
)

// Init 用实例ID初始化进程级生成器，多实例部署时每个实例的ID必须不同
func Init(instanceID int64) {
	initOnce.Do(func() {
		if instanceID < 0 || instanceID > maxInstanceID {
			log.Fatalf("[idgen] instanceID 必须在 0-%d 之间", maxInstanceID)
		}
		defaultGen = &Generator{instanceID: instanceID}
	})
}

// Next 生成下一个ID
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == g.lastStamp {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			// 毫秒内序列耗尽，自旋到下一毫秒
			for now <= g.lastStamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastStamp = now

	return ((now - customEpoch) << stampShift) |
		(g.instanceID << instanceShift) |
		g.seq
}

// GenerateTransactionNo 生成交易号
// 格式：TXN + 年月日时分秒 + 雪花ID后8位，如 TXN2024011514305212345678
func GenerateTransactionNo() string {
	if defaultGen == nil {
		Init(1)
	}
	id := defaultGen.Next()
	return fmt.Sprintf("TXN%s%08d", time.Now().Format("20060102150405"), id%100000000)
}
