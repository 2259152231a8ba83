// Package blockstream 按惰性流的方式枚举一个 shard 里所有 block 的 multihash。
//
// 优先走 side index (.idx)：它已经排好序而且不含 payload，读起来便宜。
// .idx 不存在时退回到解析 CAR 本体。其它 GET 错误一律视为致命，
// 不能把网络抖动误判成 "没有索引"。
package blockstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"carmover/pkg/car"
	"carmover/pkg/sidx"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/multiformats/go-multihash"
)

// Source 标识流的数据来源，日志和测试断言用。
type Source string

const (
	SourceSideIndex Source = "sidx"
	SourceCar       Source = "car"
)

// Stream 逐个产出 multihash。单消费者，用完必须 Close。
type Stream struct {
	source Source
	body   io.ReadCloser
	sidx   *sidx.Reader
	car    *car.Reader
}

// Open 打开 ref 指向的 shard 的 block 流。
// 先尝试 "{key}.idx"；只有明确的 ErrNotFound 才回退 CAR。
func Open(ctx context.Context, store storage.Store, ref types.ObjectRef) (*Stream, error) {
	obj, err := store.Get(ctx, ref.Key+".idx")
	if err == nil {
		sr, serr := sidx.NewReader(obj.Body)
		if serr != nil {
			obj.Body.Close()
			return nil, fmt.Errorf("side index %s.idx: %w", ref.Key, serr)
		}
		return &Stream{source: SourceSideIndex, body: obj.Body, sidx: sr}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to fetch side index %s.idx: %w", ref.Key, err)
	}

	obj, err = store.Get(ctx, ref.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("shard %s: %w", ref.Key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch shard %s: %w", ref.Key, err)
	}
	cr, cerr := car.NewReader(obj.Body)
	if cerr != nil {
		obj.Body.Close()
		return nil, fmt.Errorf("shard %s: %w", ref.Key, cerr)
	}
	return &Stream{source: SourceCar, body: obj.Body, car: cr}, nil
}

// Source 返回实际使用的数据来源。
func (s *Stream) Source() Source { return s.source }

// Next 返回下一个 block 的 multihash；流结束时返回 io.EOF。
func (s *Stream) Next() (multihash.Multihash, error) {
	if s.sidx != nil {
		mh, _, err := s.sidx.Next()
		return mh, err
	}

	blk, err := s.car.Next()
	if err != nil {
		return nil, err
	}
	return blk.CID.Hash(), nil
}

// Close 关闭底层对象流。
func (s *Stream) Close() error {
	return s.body.Close()
}
