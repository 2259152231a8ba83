// Package car 实现 CAR v1 的流式读取。
//
// 文件结构:
//
//	varint(len) || headerCBOR                 -- header: {version: 1, roots: [...]}
//	varint(len) || cid.bytes || payload       -- 任意多个 block frame
//
// Reader 是单遍、拉取式的：调用方不 Next()，流就不前进。
package car

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"
)

// MaxFrameSize 单个 frame 的上限。
// 正常 block 不超过几 MiB；超过这个值基本可以断定输入损坏，
// 与其分配几个 GiB 不如直接报错。
const MaxFrameSize = 32 << 20

var ErrCorruptFrame = errors.New("corrupt car frame")

// Block 描述 shard 内的一个 block frame。
// Offset/Length 覆盖整个 frame (varint + cid + payload)。
type Block struct {
	CID    cid.Cid
	Offset uint64
	Length uint64

	// frame 内部布局，BodyOffset/BodyLength 需要
	varintSize uint64
	cidSize    uint64
}

// BodyOffset 返回 payload 在 shard 内的字节位置。
func (b Block) BodyOffset() uint64 {
	return b.Offset + b.varintSize + b.cidSize
}

// BodyLength 返回 payload 的长度。
func (b Block) BodyLength() uint64 {
	return b.Length - b.varintSize - b.cidSize
}

// -----------------------------------------------------------------------------
// Header codec
// -----------------------------------------------------------------------------

// DAG-CBOR 的链接 tag；byte 内容以 0x00 (identity multibase) 开头
const linkTag = 42

// 解码选项沿用 DAG-CBOR 的严格模式，并限制容器大小防止恶意 header 耗尽内存
var headerDecMode, _ = cbor.DecOptions{
	MaxArrayElements: 8192,
	MaxMapPairs:      64,
	MaxNestedLevels:  8,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}.DecMode()

var headerEncMode, _ = cbor.EncOptions{
	Sort:        cbor.SortCanonical,
	IndefLength: cbor.IndefLengthForbidden,
}.EncMode()

type rawHeader struct {
	Version uint64     `cbor:"version"`
	Roots   []cbor.Tag `cbor:"roots"`
}

func decodeHeader(data []byte) (uint64, []cid.Cid, error) {
	var h rawHeader
	if err := headerDecMode.Unmarshal(data, &h); err != nil {
		return 0, nil, fmt.Errorf("failed to decode car header: %w", err)
	}
	if h.Version != 1 {
		return 0, nil, fmt.Errorf("unsupported car version %d", h.Version)
	}

	roots := make([]cid.Cid, 0, len(h.Roots))
	for _, tag := range h.Roots {
		if tag.Number != linkTag {
			return 0, nil, fmt.Errorf("car header root has tag %d, want %d", tag.Number, linkTag)
		}
		raw, ok := tag.Content.([]byte)
		if !ok || len(raw) < 2 || raw[0] != 0x00 {
			return 0, nil, errors.New("car header root is not an identity-prefixed cid")
		}
		c, err := cid.Cast(raw[1:])
		if err != nil {
			return 0, nil, fmt.Errorf("car header root cid: %w", err)
		}
		roots = append(roots, c)
	}
	return h.Version, roots, nil
}

// EncodeHeader 编码 CAR v1 header (含 varint 长度前缀)。
// 读写两侧使用同一个 codec，保证往返一致。
func EncodeHeader(roots []cid.Cid) ([]byte, error) {
	tags := make([]cbor.Tag, 0, len(roots))
	for _, c := range roots {
		tags = append(tags, cbor.Tag{
			Number:  linkTag,
			Content: append([]byte{0x00}, c.Bytes()...),
		})
	}
	body, err := headerEncMode.Marshal(rawHeader{Version: 1, Roots: tags})
	if err != nil {
		return nil, fmt.Errorf("failed to encode car header: %w", err)
	}
	out := varint.ToUvarint(uint64(len(body)))
	return append(out, body...), nil
}

// WriteBlock 向 w 追加一个 block frame。测试和打包工具使用。
func WriteBlock(w io.Writer, c cid.Cid, payload []byte) error {
	frame := uint64(len(c.Bytes()) + len(payload))
	if _, err := w.Write(varint.ToUvarint(frame)); err != nil {
		return err
	}
	if _, err := w.Write(c.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader 按文件顺序产出 Block。
type Reader struct {
	br      *bufio.Reader
	offset  uint64
	version uint64
	roots   []cid.Cid
}

// NewReader 读掉 header 并返回一个定位在第一个 frame 上的 Reader。
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	hlen, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read car header length: %w", err)
	}
	if hlen == 0 || hlen > MaxFrameSize {
		return nil, fmt.Errorf("%w: header length %d", ErrCorruptFrame, hlen)
	}

	hbuf := make([]byte, hlen)
	if _, err := io.ReadFull(br, hbuf); err != nil {
		return nil, fmt.Errorf("failed to read car header: %w", err)
	}

	version, roots, err := decodeHeader(hbuf)
	if err != nil {
		return nil, err
	}

	return &Reader{
		br:      br,
		offset:  uint64(varint.UvarintSize(hlen)) + hlen,
		version: version,
		roots:   roots,
	}, nil
}

// Roots 返回 header 声明的 DAG 根。
func (r *Reader) Roots() []cid.Cid { return r.roots }

// Version 返回 header 声明的版本 (恒为 1)。
func (r *Reader) Version() uint64 { return r.version }

// Next 返回下一个 block；流结束时返回 io.EOF。
// payload 被读进内存后即丢弃 —— 迁移只关心 (cid, offset, length)。
func (r *Reader) Next() (Block, error) {
	frameStart := r.offset

	dataLen, err := varint.ReadUvarint(r.br)
	if err != nil {
		if err == io.EOF {
			return Block{}, io.EOF
		}
		return Block{}, fmt.Errorf("failed to read frame length at offset %d: %w", frameStart, err)
	}
	if dataLen == 0 || dataLen > MaxFrameSize {
		return Block{}, fmt.Errorf("%w: frame length %d at offset %d", ErrCorruptFrame, dataLen, frameStart)
	}

	frame := make([]byte, dataLen)
	if _, err := io.ReadFull(r.br, frame); err != nil {
		// frame 声明了长度却读不满，一定是截断
		return Block{}, fmt.Errorf("%w: truncated frame at offset %d: %v", ErrCorruptFrame, frameStart, err)
	}

	cidLen, c, err := cid.CidFromBytes(frame)
	if err != nil {
		return Block{}, fmt.Errorf("%w: bad cid at offset %d: %v", ErrCorruptFrame, frameStart, err)
	}

	vsize := uint64(varint.UvarintSize(dataLen))
	r.offset = frameStart + vsize + dataLen

	return Block{
		CID:        c,
		Offset:     frameStart,
		Length:     vsize + dataLen,
		varintSize: vsize,
		cidSize:    uint64(cidLen),
	}, nil
}
