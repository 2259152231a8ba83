package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	client *s3.Client
	bucket string
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// FromObjectRef 从一个 ObjectRef 构造 Config (源端每个请求可能指向不同 region)。
func FromObjectRef(ref types.ObjectRef) Config {
	return Config{
		Endpoint:        ref.Endpoint,
		Region:          ref.Region,
		Bucket:          ref.Bucket,
		AccessKeyID:     ref.AccessKeyID,
		SecretAccessKey: ref.SecretAccessKey,
	}
}

// NewAdapter 初始化 S3 客户端 (适配 AWS SDK v2 最新规范)
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	// 没给静态凭证时走 SDK 默认链 (env / shared config / IMDS)
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 创建 S3 客户端时，注入特定于 S3 的配置
	// 使用 BaseEndpoint 而不是全局 Resolver
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// 自建端点 (MinIO / R2) 必须使用 Path Style
			o.UsePathStyle = true
		}
	})

	return &Adapter{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Head 检查对象是否存在
// 只有明确的 404 才返回 (false, nil)；其它错误不能当成“可以覆盖”的许可。
func (s *Adapter) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	// 兼容性：某些 S3 实现可能返回 generic 404 error string
	if strings.Contains(err.Error(), "404") {
		return false, nil
	}

	return false, fmt.Errorf("s3 head failed: %w", err)
}

// Get 下载对象，返回流和 Content-Length
func (s *Adapter) Get(ctx context.Context, key string) (*storage.Object, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) || strings.Contains(err.Error(), "404") {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}

	return &storage.Object{
		Body: resp.Body,
		Size: aws.ToInt64(resp.ContentLength),
	}, nil
}

// Put 单次上传。携带 ContentLength 和可选的 ChecksumSHA256，
// 让服务端在落盘前校验完整性。
func (s *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, checksumSHA256 string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if checksumSHA256 != "" {
		input.ChecksumSHA256 = aws.String(checksumSHA256)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

// CreateMultipartUpload 开启一次 multipart 会话
func (s *Adapter) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	resp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 create multipart upload failed: %w", err)
	}
	return aws.ToString(resp.UploadId), nil
}

// UploadPart 上传一个分片
func (s *Adapter) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64, checksumSHA256 string) (storage.Part, error) {
	resp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:         aws.String(s.bucket),
		Key:            aws.String(key),
		UploadId:       aws.String(uploadID),
		PartNumber:     aws.Int32(partNumber),
		Body:           body,
		ContentLength:  aws.Int64(size),
		ChecksumSHA256: aws.String(checksumSHA256),
	})
	if err != nil {
		return storage.Part{}, fmt.Errorf("s3 upload part %d failed: %w", partNumber, err)
	}
	return storage.Part{
		ETag:           aws.ToString(resp.ETag),
		PartNumber:     partNumber,
		ChecksumSHA256: checksumSHA256,
	}, nil
}

// CompleteMultipartUpload 按 PartNumber 顺序提交分片列表
func (s *Adapter) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:           aws.String(p.ETag),
			PartNumber:     aws.Int32(p.PartNumber),
			ChecksumSHA256: aws.String(p.ChecksumSHA256),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return fmt.Errorf("s3 complete multipart upload failed: %w", err)
	}
	return nil
}

// AbortMultipartUpload 中止会话，避免遗留半成品分片占用存储
func (s *Adapter) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("s3 abort multipart upload failed: %w", err)
	}
	return nil
}

// List 遍历 bucket 中指定前缀的 key，依次回调。
// 驱动器的 list 子命令用它产出待迁移清单。
func (s *Adapter) List(ctx context.Context, prefix string, fn func(key string, size int64) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key), aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}
