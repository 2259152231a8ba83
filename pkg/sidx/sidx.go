// Package sidx 实现 shard 的 side index 文件:
// 一串 (multihash, offset) 对，按 multihash 字节序排序存储。
//
// 格式:
//
//	varint(codec)                                 -- 固定 0x0401
//	varint(count)
//	count × ( varint(len(mh)) || mh || varint(offset) )
//
// Writer 增量 Add，Close 时排序落盘；Reader 流式消费。
package sidx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// Codec 标识排序 multihash 索引。
const Codec = 0x0401

var ErrBadCodec = errors.New("not a sorted multihash index")

type entry struct {
	mh     multihash.Multihash
	offset uint64
}

// -----------------------------------------------------------------------------
// Writer
// -----------------------------------------------------------------------------

// Writer 在内存里累积 entry。
// 一个 shard 的 block 数量在几万的量级，(mh, offset) 本身很小，
// 全量缓冲换取一次性排序输出是划算的。
type Writer struct {
	entries []entry
	closed  bool
}

func NewWriter() *Writer {
	return &Writer{}
}

// Add 记录一个 block 的 multihash 和它在 shard 内的 offset。
func (w *Writer) Add(mh multihash.Multihash, offset uint64) error {
	if w.closed {
		return errors.New("sidx: add after close")
	}
	// 复制一份，调用方可能复用缓冲
	cp := make(multihash.Multihash, len(mh))
	copy(cp, mh)
	w.entries = append(w.entries, entry{mh: cp, offset: offset})
	return nil
}

// Close 排序并把索引写入 out。之后 Writer 不可再用。
func (w *Writer) Close(out io.Writer) error {
	if w.closed {
		return errors.New("sidx: double close")
	}
	w.closed = true

	sort.Slice(w.entries, func(i, j int) bool {
		return bytes.Compare(w.entries[i].mh, w.entries[j].mh) < 0
	})

	bw := bufio.NewWriter(out)
	if _, err := bw.Write(varint.ToUvarint(Codec)); err != nil {
		return err
	}
	if _, err := bw.Write(varint.ToUvarint(uint64(len(w.entries)))); err != nil {
		return err
	}
	for _, e := range w.entries {
		if _, err := bw.Write(varint.ToUvarint(uint64(len(e.mh)))); err != nil {
			return err
		}
		if _, err := bw.Write(e.mh); err != nil {
			return err
		}
		if _, err := bw.Write(varint.ToUvarint(e.offset)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader 流式读取索引。单消费者，不可重放。
type Reader struct {
	br        *bufio.Reader
	remaining uint64
}

func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)

	codec, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidx codec: %w", err)
	}
	if codec != Codec {
		return nil, fmt.Errorf("%w: codec 0x%x", ErrBadCodec, codec)
	}

	count, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidx count: %w", err)
	}

	return &Reader{br: br, remaining: count}, nil
}

// Next 返回下一个 (multihash, offset)；读完时返回 io.EOF。
func (r *Reader) Next() (multihash.Multihash, uint64, error) {
	if r.remaining == 0 {
		return nil, 0, io.EOF
	}

	mhLen, err := varint.ReadUvarint(r.br)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read sidx entry length: %w", err)
	}
	// sha256 multihash 是 34 字节；给其它 hash 函数留些余量
	if mhLen == 0 || mhLen > 1024 {
		return nil, 0, fmt.Errorf("sidx entry multihash length %d out of range", mhLen)
	}

	raw := make([]byte, mhLen)
	if _, err := io.ReadFull(r.br, raw); err != nil {
		return nil, 0, fmt.Errorf("truncated sidx entry: %w", err)
	}
	mh, err := multihash.Cast(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("sidx entry is not a multihash: %w", err)
	}

	offset, err := varint.ReadUvarint(r.br)
	if err != nil {
		return nil, 0, fmt.Errorf("truncated sidx entry offset: %w", err)
	}

	r.remaining--
	return mh, offset, nil
}
