package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound = errors.New("object not found")
)

// Object 是一次 Get 的结果。
// Body 是流式的，调用方负责 Close；Size 来自 Content-Length。
type Object struct {
	Body io.ReadCloser
	Size int64
}

// Part 记录一个已上传分片。CompleteMultipartUpload 需要原样带回。
type Part struct {
	ETag           string
	PartNumber     int32
	ChecksumSHA256 string
}

// Store defines the uniform surface over an S3-compatible object store.
// 两个配置不同的实例 (源端 vs 目的端) 可以在同一次操作里共存。
type Store interface {
	// Head 检查对象是否存在。
	// 返回 (false, nil) 仅当存储端明确报告 404；其它错误原样返回。
	Head(ctx context.Context, key string) (bool, error)

	// Get 返回对象的字节流和大小。
	// 注意：返回 io.ReadCloser 而不是 []byte —— shard 可能有几百 GiB。
	Get(ctx context.Context, key string) (*Object, error)

	// Put 单次上传。checksumSHA256 非空时作为 ChecksumSHA256 头携带，
	// 由服务端做完整性校验 (base64 of the raw sha256 digest)。
	Put(ctx context.Context, key string, body io.Reader, size int64, checksumSHA256 string) error

	// Multipart 上传生命周期。Part 编号从 1 开始，严格递增。
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64, checksumSHA256 string) (Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
