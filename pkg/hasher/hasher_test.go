package hasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"testing"

	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string][]byte
}

func (f *fakeStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (f *fakeStore) Head(context.Context, string) (bool, error) { panic("not implemented") }
func (f *fakeStore) Put(context.Context, string, io.Reader, int64, string) error {
	panic("not implemented")
}
func (f *fakeStore) CreateMultipartUpload(context.Context, string) (string, error) {
	panic("not implemented")
}
func (f *fakeStore) UploadPart(context.Context, string, string, int32, io.Reader, int64, string) (storage.Part, error) {
	panic("not implemented")
}
func (f *fakeStore) CompleteMultipartUpload(context.Context, string, string, []storage.Part) error {
	panic("not implemented")
}
func (f *fakeStore) AbortMultipartUpload(context.Context, string, string) error {
	panic("not implemented")
}

func TestHash(t *testing.T) {
	ctx := context.Background()
	ref := types.ObjectRef{Region: "us-west-2", Bucket: "dotstorage-prod-1", Key: "complete/shard.car"}

	t.Run("digest and codec", func(t *testing.T) {
		// 内容随便什么字节都行，hash 只看字节不看格式
		body := bytes.Repeat([]byte("carmover test payload "), 100000)
		store := &fakeStore{objects: map[string][]byte{ref.Key: body}}

		res, err := Hash(ctx, store, ref)
		require.NoError(t, err)

		assert.Equal(t, int64(len(body)), res.Size)
		assert.Equal(t, uint64(types.CarCodec), res.CID.Prefix().Codec)

		want := sha256.Sum256(body)
		dmh, err := multihash.Decode(res.CID.Hash())
		require.NoError(t, err)
		assert.Equal(t, want[:], dmh.Digest)
	})

	t.Run("deterministic", func(t *testing.T) {
		body := []byte("same bytes, same cid")
		store := &fakeStore{objects: map[string][]byte{ref.Key: body}}

		a, err := Hash(ctx, store, ref)
		require.NoError(t, err)
		b, err := Hash(ctx, store, ref)
		require.NoError(t, err)
		assert.True(t, a.CID.Equals(b.CID))
	})

	t.Run("missing object", func(t *testing.T) {
		store := &fakeStore{objects: map[string][]byte{}}
		_, err := Hash(ctx, store, ref)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("zero content length is not found", func(t *testing.T) {
		store := &fakeStore{objects: map[string][]byte{ref.Key: {}}}
		_, err := Hash(ctx, store, ref)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
