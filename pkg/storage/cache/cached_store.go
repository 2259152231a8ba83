package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"carmover/pkg/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
// 迁移的幂等检查 (Head-first) 会对同一批 key 反复发问，缓存把重复的
// HEAD 请求拦在对象存储之外。
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
	logger  *zap.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	Logger   *zap.Logger
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	// 解析 URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		logger:  logger,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key string) string {
	return "carmover:exists:" + key
}

// Head 优先查 Redis，实现毫秒级去重
// 只缓存"存在"这一个事实：key 是内容寻址的，对象一旦写入不会变。
func (s *CachedStore) Head(ctx context.Context, key string) (bool, error) {
	ck := s.cacheKey(key)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		// 缓存故障降级：Redis 挂了就退化为无缓存模式，直接查底层
		s.logger.Warn("existence cache unavailable, falling through", zap.Error(err))
	} else if val > 0 {
		// Cache Hit! 无需发起 HEAD 请求
		return true, nil
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Head(ctx, key)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	if found {
		// 异步写入 Redis，不阻塞主流程
		// 用独立的 context 确保即使上层 ctx 取消，回填也能完成
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 写穿，不做预检。幂等跳过由调用方的 Head-first 决定，
// 一旦调用方决定要写，缓存不能替它把写吞掉。
func (s *CachedStore) Put(ctx context.Context, key string, body io.Reader, size int64, checksumSHA256 string) error {
	if err := s.backend.Put(ctx, key, body, size, checksumSHA256); err != nil {
		return err
	}
	// 上传成功了才写缓存。Set 失败可以忽略，不影响主流程
	s.client.Set(ctx, s.cacheKey(key), "1", s.ttl)
	return nil
}

// Get 透传 - 我们不缓存对象数据
// shard 可能有几百 GiB，Redis 内存只存存在性标记。
func (s *CachedStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	return s.backend.Get(ctx, key)
}

// Multipart 生命周期透传，Complete 成功后补一条存在性标记。

func (s *CachedStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	return s.backend.CreateMultipartUpload(ctx, key)
}

func (s *CachedStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64, checksumSHA256 string) (storage.Part, error) {
	return s.backend.UploadPart(ctx, key, uploadID, partNumber, body, size, checksumSHA256)
}

func (s *CachedStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	if err := s.backend.CompleteMultipartUpload(ctx, key, uploadID, parts); err != nil {
		return err
	}
	s.client.Set(ctx, s.cacheKey(key), "1", s.ttl)
	return nil
}

func (s *CachedStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return s.backend.AbortMultipartUpload(ctx, key, uploadID)
}
