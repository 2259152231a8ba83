package copier

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"testing"

	"carmover/pkg/car"
	"carmover/pkg/sidx"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 内存版 Store: 校验 checksum，记录调用，支持 multipart 会话
// -----------------------------------------------------------------------------

type session struct {
	key       string
	parts     [][]byte
	partNums  []int32
	completed bool
	aborted   bool
}

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	sessions map[string]*session
	puts     []string
	heads    []string
	headErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, sessions: map[string]*session{}}
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (f *fakeStore) Head(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return false, f.headErr
	}
	f.heads = append(f.heads, key)
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func (f *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, checksumSHA256 string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("content length mismatch: declared %d, got %d", size, len(data))
	}
	// 服务端行为: checksum 不对就拒收
	if checksumSHA256 != "" && checksumSHA256 != checksumOf(data) {
		return fmt.Errorf("checksum mismatch for %s", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return nil
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.sessions)+1)
	f.sessions[id] = &session{key: key}
	return id, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64, checksumSHA256 string) (storage.Part, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Part{}, err
	}
	if int64(len(data)) != size {
		return storage.Part{}, fmt.Errorf("part %d content length mismatch", partNumber)
	}
	if checksumSHA256 != checksumOf(data) {
		return storage.Part{}, fmt.Errorf("part %d checksum mismatch", partNumber)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[uploadID]
	if !ok {
		return storage.Part{}, fmt.Errorf("unknown upload %s", uploadID)
	}
	s.parts = append(s.parts, data)
	s.partNums = append(s.partNums, partNumber)
	return storage.Part{ETag: fmt.Sprintf("etag-%d", partNumber), PartNumber: partNumber, ChecksumSHA256: checksumSHA256}, nil
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[uploadID]
	if !ok || s.aborted {
		return fmt.Errorf("unknown or aborted upload %s", uploadID)
	}
	var all []byte
	for _, p := range s.parts {
		all = append(all, p...)
	}
	f.objects[key] = all
	s.completed = true
	return nil
}

func (f *fakeStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[uploadID]; ok {
		s.aborted = true
	}
	return nil
}

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

func blockCID(t *testing.T, payload []byte) cid.Cid {
	t.Helper()
	digest := sha256.Sum256(payload)
	mh, err := multihash.Encode(digest[:], multihash.SHA2_256)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

// buildShard 生成一个合法 CAR 并返回 (字节, root, shard cid)。
func buildShard(t *testing.T, payloads [][]byte) ([]byte, cid.Cid, cid.Cid) {
	t.Helper()

	root := blockCID(t, payloads[0])
	var buf bytes.Buffer
	header, err := car.EncodeHeader([]cid.Cid{root})
	require.NoError(t, err)
	buf.Write(header)
	for _, p := range payloads {
		require.NoError(t, car.WriteBlock(&buf, blockCID(t, p), p))
	}

	digest := sha256.Sum256(buf.Bytes())
	shard, err := types.NewShardCID(digest[:])
	require.NoError(t, err)
	return buf.Bytes(), root, shard
}

type fixture struct {
	stores Stores
	source *fakeStore
	dest   *fakeStore // carpark
	satnav *fakeStore
	dude   *fakeStore
	src    types.ShardRef
	root   cid.Cid
	data   []byte
}

func setup(t *testing.T, payloads [][]byte) *fixture {
	t.Helper()
	data, root, shard := buildShard(t, payloads)

	source := newFakeStore()
	dest := newFakeStore()
	satnav := newFakeStore()
	dude := newFakeStore()

	ref := types.ObjectRef{Region: "us-west-2", Bucket: "dotstorage-prod-1", Key: "complete/shard.car"}
	source.objects[ref.Key] = data

	return &fixture{
		stores: Stores{Source: source, Carpark: dest, Satnav: satnav, Dudewhere: dude},
		source: source, dest: dest, satnav: satnav, dude: dude,
		src:  types.ShardRef{ObjectRef: ref, CID: shard},
		root: root,
		data: data,
	}
}

func assertArtifacts(t *testing.T, f *fixture, blocks int) {
	t.Helper()

	// 1. carpark: shard 本体逐字节一致
	got, ok := f.dest.objects[types.ShardKey(f.src.CID)]
	require.True(t, ok, "shard body must exist")
	assert.Equal(t, f.data, got)

	// 2. satnav: side index 可解析且覆盖全部 block
	idx, ok := f.satnav.objects[types.SideIndexKey(f.src.CID)]
	require.True(t, ok, "side index must exist")
	r, err := sidx.NewReader(bytes.NewReader(idx))
	require.NoError(t, err)
	count := 0
	for {
		_, _, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, blocks, count)

	// 3. dudewhere: 零字节 root link
	link, ok := f.dude.objects[types.RootLinkKey(f.root, f.src.CID)]
	require.True(t, ok, "root link must exist")
	assert.Empty(t, link)
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestCopySinglePut(t *testing.T) {
	ctx := context.Background()
	f := setup(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")})

	res, err := Copy(ctx, f.stores, f.src, f.root, Options{})
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, int64(len(f.data)), res.Size)
	assert.Equal(t, 3, res.Blocks)

	assertArtifacts(t, f, 3)
	// 小对象不该开 multipart 会话
	assert.Empty(t, f.dest.sessions)
}

func TestCopyIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t, [][]byte{[]byte("solo")})

	// 目的端已经有这个 shard
	f.dest.objects[types.ShardKey(f.src.CID)] = f.data
	// 源端清空: 幂等命中连 GET 都不该发
	f.source.objects = map[string][]byte{}

	res, err := Copy(ctx, f.stores, f.src, f.root, Options{})
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Empty(t, f.dest.puts)
	assert.Empty(t, f.satnav.puts)
	assert.Empty(t, f.dude.puts)
}

func TestCopyHeadErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	f := setup(t, [][]byte{[]byte("solo")})

	// HEAD 失败不是 "可以覆盖" 的许可
	f.dest.headErr = fmt.Errorf("access denied")

	_, err := Copy(ctx, f.stores, f.src, f.root, Options{})
	require.Error(t, err)
	assert.Empty(t, f.dest.puts)
}

func TestCopyMultipart(t *testing.T) {
	prev := targetPartSize
	targetPartSize = 1024
	defer func() { targetPartSize = prev }()

	ctx := context.Background()
	payloads := [][]byte{
		bytes.Repeat([]byte{0x01}, 1500),
		bytes.Repeat([]byte{0x02}, 1500),
		bytes.Repeat([]byte{0x03}, 1500),
	}
	f := setup(t, payloads)

	res, err := Copy(ctx, f.stores, f.src, f.root, Options{MaxPutSize: 2048})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Blocks)

	assertArtifacts(t, f, 3)

	// 会话必须 Complete，分片号从 1 开始严格递增
	require.Len(t, f.dest.sessions, 1)
	for _, s := range f.dest.sessions {
		assert.True(t, s.completed)
		assert.False(t, s.aborted)
		assert.GreaterOrEqual(t, len(s.partNums), 2, "body must split into multiple parts")
		for i, num := range s.partNums {
			assert.Equal(t, int32(i+1), num)
		}
	}
}

func TestCopyIntegrityFailure(t *testing.T) {
	prev := targetPartSize
	targetPartSize = 1024
	defer func() { targetPartSize = prev }()

	ctx := context.Background()
	f := setup(t, [][]byte{bytes.Repeat([]byte{0xaa}, 4000)})

	// 声明一个跟实际字节对不上的 shard cid
	bogus := sha256.Sum256([]byte("unrelated"))
	wrongCID, err := types.NewShardCID(bogus[:])
	require.NoError(t, err)
	f.src.CID = wrongCID

	_, err = Copy(ctx, f.stores, f.src, f.root, Options{MaxPutSize: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)

	// 会话必须被 Abort，目的端不能出现完成的对象
	require.Len(t, f.dest.sessions, 1)
	for _, s := range f.dest.sessions {
		assert.True(t, s.aborted)
		assert.False(t, s.completed)
	}
	_, ok := f.dest.objects[types.ShardKey(wrongCID)]
	assert.False(t, ok)
}

func TestCopySinglePutChecksumRejected(t *testing.T) {
	ctx := context.Background()
	f := setup(t, [][]byte{[]byte("payload")})

	// 单次 PUT 路径的完整性由服务端 checksum 把关
	bogus := sha256.Sum256([]byte("unrelated"))
	wrongCID, err := types.NewShardCID(bogus[:])
	require.NoError(t, err)
	f.src.CID = wrongCID

	_, err = Copy(ctx, f.stores, f.src, f.root, Options{})
	require.Error(t, err)
	_, ok := f.dest.objects[types.ShardKey(wrongCID)]
	assert.False(t, ok)
}

func TestRope(t *testing.T) {
	r := newRope()
	assert.Equal(t, int64(0), r.len())

	r.add([]byte("hello "))
	r.add([]byte("world"))
	assert.Equal(t, int64(11), r.len())

	data, err := io.ReadAll(r.reader())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)
	assert.Equal(t, checksumOf([]byte("hello world")), r.checksum())

	r.reset()
	assert.Equal(t, int64(0), r.len())
	r.add([]byte("next"))
	assert.Equal(t, checksumOf([]byte("next")), r.checksum())
}
