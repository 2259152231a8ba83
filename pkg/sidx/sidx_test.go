package sidx

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mh(t *testing.T, data string) multihash.Multihash {
	t.Helper()
	digest := sha256.Sum256([]byte(data))
	m, err := multihash.Encode(digest[:], multihash.SHA2_256)
	require.NoError(t, err)
	return m
}

func TestWriterSortsEntries(t *testing.T) {
	w := NewWriter()

	// 乱序塞进去，offset 记录插入顺序
	inputs := []multihash.Multihash{}
	for i := 0; i < 50; i++ {
		m := mh(t, fmt.Sprintf("block-%d", i))
		inputs = append(inputs, m)
		require.NoError(t, w.Add(m, uint64(i)))
	}

	var buf bytes.Buffer
	require.NoError(t, w.Close(&buf))

	r, err := NewReader(&buf)
	require.NoError(t, err)

	// 读出来必须按 multihash 字节序排好，(mh, offset) 配对不变
	byHash := map[string]uint64{}
	for i, m := range inputs {
		byHash[string(m)] = uint64(i)
	}

	var prev multihash.Multihash
	count := 0
	for {
		m, off, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		if prev != nil {
			assert.True(t, bytes.Compare(prev, m) < 0, "entries must be sorted")
		}
		assert.Equal(t, byHash[string(m)], off)
		prev = m
		count++
	}
	assert.Equal(t, len(inputs), count)
}

func TestWriterLifecycle(t *testing.T) {
	w := NewWriter()
	require.NoError(t, w.Add(mh(t, "x"), 0))

	var buf bytes.Buffer
	require.NoError(t, w.Close(&buf))

	assert.Error(t, w.Add(mh(t, "y"), 1), "add after close")
	assert.Error(t, w.Close(&buf), "double close")
}

func TestWriterCopiesInput(t *testing.T) {
	w := NewWriter()

	// 调用方复用缓冲时，已 Add 的 entry 不能跟着变
	m := mh(t, "original")
	buf := make(multihash.Multihash, len(m))
	copy(buf, m)
	require.NoError(t, w.Add(buf, 7))
	for i := range buf {
		buf[i] = 0
	}

	var out bytes.Buffer
	require.NoError(t, w.Close(&out))

	r, err := NewReader(&out)
	require.NoError(t, err)
	got, off, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, uint64(7), off)
}

func TestReaderRejectsBadInput(t *testing.T) {
	t.Run("wrong codec", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(varint.ToUvarint(0x0400))
		buf.Write(varint.ToUvarint(0))
		_, err := NewReader(&buf)
		assert.ErrorIs(t, err, ErrBadCodec)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("truncated entry", func(t *testing.T) {
		w := NewWriter()
		require.NoError(t, w.Add(mh(t, "z"), 42))
		var buf bytes.Buffer
		require.NoError(t, w.Close(&buf))

		r, err := NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()-10]))
		require.NoError(t, err)
		_, _, err = r.Next()
		assert.Error(t, err)
	})

	t.Run("empty index is valid", func(t *testing.T) {
		w := NewWriter()
		var buf bytes.Buffer
		require.NoError(t, w.Close(&buf))

		r, err := NewReader(&buf)
		require.NoError(t, err)
		_, _, err = r.Next()
		assert.Equal(t, io.EOF, err)
	})
}
