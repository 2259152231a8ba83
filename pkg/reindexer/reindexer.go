// Package reindexer 把一个 shard 的 block 位置行从 legacy carpath
// 改写到规范目的地路径。
//
// 改写是 "先写新、后删旧": 任何时刻并发读者都能在两个位置之一
// 找到 block。批与批之间无序并行，批内部顺序严格。
package reindexer

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"carmover/pkg/blockindex"
	"carmover/pkg/blockstream"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"golang.org/x/sync/errgroup"
)

// batchParallelism 是同时在途的批数。
// 表的写容量有限，5 路已经能把 100-key 批的延迟藏起来。
const batchParallelism = 5

// Result 描述一次 Reindex 的结果。
type Result struct {
	// Updated 是成功改写 (写新 + 删旧) 的行数。
	Updated int
}

// Reindex 枚举 src 内所有 block 的 multihash，把它们在 table 里
// 指向 legacy 位置的行改写到 destPath。
//
// 不属于这个 shard 的行 (同 multihash、不同 carpath) 绝不会被碰到:
// 所有读写删都带完整复合键。
func Reindex(ctx context.Context, store storage.Store, table *blockindex.Table, src types.ShardRef, destPath string) (Result, error) {
	stream, err := blockstream.Open(ctx, store, src.ObjectRef)
	if err != nil {
		return Result{}, err
	}
	defer stream.Close()

	legacyPath := src.CarPath()

	var updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)

	batch := make([]blockindex.Key, 0, blockindex.MaxBatchGet)
	flush := func() {
		keys := batch
		batch = make([]blockindex.Key, 0, blockindex.MaxBatchGet)
		g.Go(func() error {
			n, err := rewriteBatch(gctx, table, keys, destPath)
			if err != nil {
				return err
			}
			updated.Add(int64(n))
			return nil
		})
	}

	for {
		mh, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 枚举源头坏了就没有继续的意义，但在途的批要收尾
			_ = g.Wait()
			return Result{}, fmt.Errorf("failed to enumerate blocks of %s: %w", src.Key, err)
		}
		batch = append(batch, blockindex.Key{
			BlockMultihash: blockindex.MultihashKey(mh),
			CarPath:        legacyPath,
		})
		if len(batch) == blockindex.MaxBatchGet {
			flush()
		}
	}
	if len(batch) > 0 {
		flush()
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Updated: int(updated.Load())}, nil
}

// rewriteBatch 处理一个 ≤100 key 的批: 点查旧行、写新行、删旧行。
// 返回实际改写的行数 (点查缺席的 multihash 不计入)。
func rewriteBatch(ctx context.Context, table *blockindex.Table, keys []blockindex.Key, destPath string) (int, error) {
	old, err := table.GetRows(ctx, keys)
	if err != nil {
		return 0, err
	}
	if len(old) == 0 {
		return 0, nil
	}

	newRows := make([]blockindex.Row, 0, len(old))
	oldKeys := make([]blockindex.Key, 0, len(old))
	for _, row := range old {
		newRows = append(newRows, blockindex.Row{
			BlockMultihash: row.BlockMultihash,
			CarPath:        destPath,
			Offset:         row.Offset,
			Length:         row.Length,
		})
		oldKeys = append(oldKeys, row.Key())
	}

	// 顺序不可交换: 先让新位置可见，再撤掉旧位置
	if err := table.PutRows(ctx, newRows); err != nil {
		return 0, err
	}
	if err := table.DeleteRows(ctx, oldKeys); err != nil {
		return 0, err
	}
	return len(newRows), nil
}
