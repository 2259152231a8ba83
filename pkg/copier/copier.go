// Package copier 把一个 shard 从源端搬到目的端。
//
// 一次 Copy 同时产出三个工件:
//
//	carpark:   {cid}/{cid}.car        shard 本体
//	satnav:    {cid}/{cid}.car.idx    排序 block 索引
//	dudewhere: {root}/{cid}           零字节 root→shard 标记
//
// 源端字节流只被拉取一遍: 上传 sink 驱动读取，tee 出来的副本喂给
// 索引 sink。两个 sink 加 root link 共三路，必须全部成功。
package copier

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"carmover/pkg/car"
	"carmover/pkg/sidx"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	sha256 "github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxPutSize 是单次 PUT 与 multipart 的分界。
	// S3 对单次 PutObject 的上限就是 5 GiB。
	DefaultMaxPutSize = 5 << 30

	// TargetPartSize 是 multipart 每个分片的目标大小。
	TargetPartSize = 100 << 20

	// 从源端读取的块大小
	readChunkSize = 1 << 20
)

// 测试会把分片阈值调小来覆盖多分片路径
var targetPartSize = int64(TargetPartSize)

// ErrIntegrity 表示上传完的字节与 shard CID 对不上。
// multipart 会话在返回这个错误之前已经被 Abort。
var ErrIntegrity = errors.New("shard integrity check failed")

// Stores 聚合一次 Copy 要用到的四个 bucket。
type Stores struct {
	Source    storage.Store
	Carpark   storage.Store
	Satnav    storage.Store
	Dudewhere storage.Store
}

// Options 控制写入策略。
type Options struct {
	// MaxPutSize 为 0 时取 DefaultMaxPutSize。
	MaxPutSize int64
}

// Result 描述一次 Copy 的结果。
type Result struct {
	// Skipped 表示目的端已存在，本次没有做任何写入。
	Skipped bool
	// Size 是 shard 的字节数。
	Size int64
	// Blocks 是写入 side index 的 block 数。
	Blocks int
}

// Copy 幂等地把 src 指向的 shard 复制到目的端。
// root 用于生成 dudewhere 标记的 key。
func Copy(ctx context.Context, stores Stores, src types.ShardRef, root cid.Cid, opts Options) (Result, error) {
	maxPut := opts.MaxPutSize
	if maxPut <= 0 {
		maxPut = DefaultMaxPutSize
	}

	shardKey := types.ShardKey(src.CID)

	// 幂等性检查: 目的端已经有了就什么都不做。
	// 只有明确的 "不存在" 才继续；其它错误不能当成许可。
	exists, err := stores.Carpark.Head(ctx, shardKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check destination: %w", err)
	}
	if exists {
		return Result{Skipped: true}, nil
	}

	obj, err := stores.Source.Get(ctx, src.Key)
	if err != nil {
		return Result{}, err
	}
	defer obj.Body.Close()

	dmh, err := multihash.Decode(src.CID.Hash())
	if err != nil {
		return Result{}, fmt.Errorf("shard cid has invalid multihash: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()
	tee := io.TeeReader(obj.Body, pw)

	// 上传 sink 驱动整个流: 它不 Read，索引 sink 就收不到字节。
	g.Go(func() error {
		err := uploadShard(gctx, stores.Carpark, shardKey, tee, obj.Size, maxPut, dmh.Digest)
		// 正常结束时用 nil 关闭，索引侧读到干净的 EOF
		pw.CloseWithError(err)
		return err
	})

	var blocks int
	g.Go(func() error {
		n, err := writeSideIndex(gctx, stores.Satnav, types.SideIndexKey(src.CID), pr)
		if err != nil {
			// 让 tee 的写入端尽快失败，否则上传 sink 会卡在 Read 上
			pr.CloseWithError(err)
			return err
		}
		blocks = n
		return nil
	})

	g.Go(func() error {
		key := types.RootLinkKey(root, src.CID)
		if err := stores.Dudewhere.Put(gctx, key, bytes.NewReader(nil), 0, ""); err != nil {
			return fmt.Errorf("failed to write root link %s: %w", key, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Size: obj.Size, Blocks: blocks}, nil
}

// uploadShard 按大小选择单次 PUT 或 multipart。
func uploadShard(ctx context.Context, dest storage.Store, key string, body io.Reader, size int64, maxPut int64, digest []byte) error {
	if size < maxPut {
		// 服务端用 ChecksumSHA256 校验，传错字节会被直接拒绝
		checksum := base64.StdEncoding.EncodeToString(digest)
		if err := dest.Put(ctx, key, body, size, checksum); err != nil {
			return fmt.Errorf("failed to put shard %s: %w", key, err)
		}
		return nil
	}
	return uploadMultipart(ctx, dest, key, body, digest)
}

func uploadMultipart(ctx context.Context, dest storage.Store, key string, body io.Reader, digest []byte) error {
	uploadID, err := dest.CreateMultipartUpload(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		// 失败路径必须 Abort，否则半成品分片会一直占用存储。
		// 原始 ctx 可能已经取消，Abort 用一个不受取消影响的 context。
		_ = dest.AbortMultipartUpload(context.WithoutCancel(ctx), key, uploadID)
	}()

	var (
		parts []storage.Part
		num   int32
		buf   = make([]byte, readChunkSize)
		part  = newRope()
		whole = sha256.New()
	)

	flush := func() error {
		num++
		p, err := dest.UploadPart(ctx, key, uploadID, num, part.reader(), part.len(), part.checksum())
		if err != nil {
			return fmt.Errorf("failed to upload part %d of %s: %w", num, key, err)
		}
		parts = append(parts, p)
		part.reset()
		return nil
	}

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			whole.Write(buf[:n])
			// 一次读到的块可能跨过阈值: 切开，分片大小封顶在 targetPartSize
			chunk := buf[:n]
			for len(chunk) > 0 {
				take := min(int64(len(chunk)), targetPartSize-part.len())
				part.add(chunk[:take])
				chunk = chunk[take:]
				if part.len() >= targetPartSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("failed to read shard stream: %w", rerr)
		}
	}
	if part.len() > 0 {
		if err := flush(); err != nil {
			return err
		}
	}

	// 完整性检查必须发生在 Complete 之前
	if !bytes.Equal(whole.Sum(nil), digest) {
		return fmt.Errorf("%w: digest mismatch for %s", ErrIntegrity, key)
	}

	if err := dest.CompleteMultipartUpload(ctx, key, uploadID, parts); err != nil {
		return fmt.Errorf("failed to complete multipart upload for %s: %w", key, err)
	}
	completed = true
	return nil
}

// writeSideIndex 把 CAR 流解析成 (multihash, offset) 并落成 .idx 工件。
// 返回写入的 block 数。
func writeSideIndex(ctx context.Context, dest storage.Store, key string, r io.Reader) (int, error) {
	cr, err := car.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to parse shard: %w", err)
	}

	w := sidx.NewWriter()
	blocks := 0
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to parse shard: %w", err)
		}
		if err := w.Add(blk.CID.Hash(), blk.Offset); err != nil {
			return 0, err
		}
		blocks++
	}

	var out bytes.Buffer
	if err := w.Close(&out); err != nil {
		return 0, fmt.Errorf("failed to build side index: %w", err)
	}

	sum := sha256.Sum256(out.Bytes())
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	if err := dest.Put(ctx, key, bytes.NewReader(out.Bytes()), int64(out.Len()), checksum); err != nil {
		return 0, fmt.Errorf("failed to put side index %s: %w", key, err)
	}
	return blocks, nil
}
