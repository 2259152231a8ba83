package copier

import (
	"encoding/base64"
	"hash"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// rope 把若干小块攒成一个上传分片。
// 块本身不拼接，读取时用 MultiReader 串起来，避免反复的大块拷贝。
// 同时维护一个增量 sha256，分片落定时直接取 checksum。
type rope struct {
	chunks [][]byte
	size   int64
	hash   hash.Hash
}

func newRope() *rope {
	return &rope{hash: sha256.New()}
}

// add 追加一个数据块。p 会被复制，调用方可以复用缓冲。
func (r *rope) add(p []byte) {
	cp := make([]byte, len(p))
	copy(cp, p)
	r.chunks = append(r.chunks, cp)
	r.size += int64(len(p))
	r.hash.Write(p)
}

func (r *rope) len() int64 { return r.size }

// reader 返回覆盖当前全部内容的读取器。读取期间不要再 add。
func (r *rope) reader() io.Reader {
	readers := make([]io.Reader, 0, len(r.chunks))
	for _, c := range r.chunks {
		readers = append(readers, newByteReader(c))
	}
	return io.MultiReader(readers...)
}

// checksum 返回当前内容的 base64(sha256)。
func (r *rope) checksum() string {
	return base64.StdEncoding.EncodeToString(r.hash.Sum(nil))
}

// reset 清空内容，准备下一个分片。
func (r *rope) reset() {
	r.chunks = nil
	r.size = 0
	r.hash.Reset()
}

// byteReader 是 bytes.Reader 的最小替身，避免为每个 chunk 引入
// 带 Seek 的完整实现 (S3 SDK 看到 Seeker 会尝试 rewind)。
type byteReader struct {
	buf []byte
}

func newByteReader(b []byte) *byteReader { return &byteReader{buf: b} }

func (b *byteReader) Read(p []byte) (int, error) {
	if len(b.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}
