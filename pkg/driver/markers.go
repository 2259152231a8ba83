package driver

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	doneSetKey     = "carmover:done"
	failureListKey = "carmover:failures"
)

// Markers 在 redis 里记录已完成的 key 和失败明细，
// 让中断的批次可以接着跑、失败的子集可以单独重放。
//
// 标记只是加速器: redis 挂了就降级成全量重做 (幂等性兜底)，
// 绝不让标记存储的故障弄死整个批次。
type Markers struct {
	rdb      *redis.Client
	logger   *zap.Logger
	degraded atomic.Bool
}

// NewMarkers 按 redis URL (redis://host:port/db) 构造。
func NewMarkers(url string, logger *zap.Logger) (*Markers, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Markers{rdb: redis.NewClient(opts), logger: logger}, nil
}

// degrade 记录一次标记存储故障。只在第一次打 warn，避免刷屏。
func (m *Markers) degrade(op string, err error) {
	if m.degraded.CompareAndSwap(false, true) {
		m.logger.Warn("marker store unavailable, continuing without markers",
			zap.String("op", op), zap.Error(err))
	}
}

// Done 判断 key 是否已经处理过。出错时按“没处理过”算。
func (m *Markers) Done(ctx context.Context, key string) bool {
	ok, err := m.rdb.SIsMember(ctx, doneSetKey, key).Result()
	if err != nil {
		m.degrade("sismember", err)
		return false
	}
	return ok
}

// MarkDone 记录 key 已完成。
func (m *Markers) MarkDone(ctx context.Context, key string) {
	if err := m.rdb.SAdd(ctx, doneSetKey, key).Err(); err != nil {
		m.degrade("sadd", err)
	}
}

// failureRecord 是失败列表里的一条。
type failureRecord struct {
	Item  Item   `json:"item"`
	Error string `json:"error"`
}

// RecordFailure 把失败的任务连同错误信息追加到失败列表。
func (m *Markers) RecordFailure(ctx context.Context, item Item, msg string) {
	payload, err := json.Marshal(failureRecord{Item: item, Error: msg})
	if err != nil {
		return
	}
	if err := m.rdb.RPush(ctx, failureListKey, payload).Err(); err != nil {
		m.degrade("rpush", err)
	}
}

// Failures 返回全部失败记录 (原始 json 行)。
func (m *Markers) Failures(ctx context.Context) ([]string, error) {
	return m.rdb.LRange(ctx, failureListKey, 0, -1).Result()
}

// ClearFailures 清空失败列表。重放过的失败没必要留着。
func (m *Markers) ClearFailures(ctx context.Context) error {
	return m.rdb.Del(ctx, failureListKey).Err()
}
