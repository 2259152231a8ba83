// Package hasher 计算源端 shard 的 CAR CID。
//
// 整个对象只被流式读取一遍，内存占用与 shard 大小无关。
// 返回的 CID 就是 shard 在目的端的身份: b+sha256(CAR 字节), codec 0x0202。
package hasher

import (
	"context"
	"fmt"
	"io"

	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	sha256 "github.com/minio/sha256-simd"
)

// Result 是一次 hash 操作的产出。
type Result struct {
	CID  cid.Cid
	Size int64
}

// Hash 下载 ref 指向的对象并计算其 CAR CID。
// 对象缺失或长度为零都算 NotFound: 空对象不是合法的 CAR，
// 上游曾经出现过 0 字节的占位残骸，必须当缺失处理。
func Hash(ctx context.Context, store storage.Store, ref types.ObjectRef) (Result, error) {
	obj, err := store.Get(ctx, ref.Key)
	if err != nil {
		return Result{}, err
	}
	defer obj.Body.Close()

	if obj.Size == 0 {
		return Result{}, fmt.Errorf("object %s has zero content length: %w", ref.Key, storage.ErrNotFound)
	}

	h := sha256.New()
	n, err := io.Copy(h, obj.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read %s: %w", ref.Key, err)
	}
	if n == 0 {
		return Result{}, fmt.Errorf("object %s is empty: %w", ref.Key, storage.ErrNotFound)
	}

	c, err := types.NewShardCID(h.Sum(nil))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build shard cid: %w", err)
	}
	return Result{CID: c, Size: n}, nil
}
