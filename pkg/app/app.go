// pkg/app/app.go
package app

import (
	"context"
	"fmt"

	"carmover/pkg/blockindex"
	"carmover/pkg/copier"
	"carmover/pkg/storage"
	"carmover/pkg/storage/cache"
	"carmover/pkg/storage/s3"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务: 三个目的端 bucket 的客户端和 block-index 表。
// 源端客户端是每个请求单独构造的，因为每个请求可能指向不同 region。
type App struct {
	Logger *zap.Logger

	Carpark   storage.Store
	Satnav    storage.Store
	Dudewhere storage.Store

	BlockIndex *blockindex.Table

	destRegion    string
	carparkBucket string

	srcAccessKeyID     string
	srcSecretAccessKey string
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, logger *zap.Logger) (*App, error) {
	destCfg := func(bucket string) s3.Config {
		return s3.Config{
			Endpoint:        viper.GetString("dest.endpoint"),
			Region:          viper.GetString("dest.region"),
			Bucket:          bucket,
			AccessKeyID:     viper.GetString("dest.access_key_id"),
			SecretAccessKey: viper.GetString("dest.secret_access_key"),
		}
	}

	carparkAdapter, err := s3.NewAdapter(ctx, destCfg(viper.GetString("dest.carpark_bucket")))
	if err != nil {
		return nil, fmt.Errorf("failed to init carpark store: %w", err)
	}
	var carpark storage.Store = carparkAdapter

	// 可选的 Redis 存在性缓存，套在 carpark 外面。
	// 幂等检查只对 carpark 发 HEAD，另外两个 bucket 不需要。
	if redisURL := viper.GetString("cache.redis_url"); redisURL != "" {
		carpark, err = cache.NewCachedStore(carpark, cache.Config{
			RedisURL: redisURL,
			TTL:      viper.GetDuration("cache.ttl"),
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init existence cache: %w", err)
		}
	}
	satnav, err := s3.NewAdapter(ctx, destCfg(viper.GetString("dest.satnav_bucket")))
	if err != nil {
		return nil, fmt.Errorf("failed to init satnav store: %w", err)
	}
	dudewhere, err := s3.NewAdapter(ctx, destCfg(viper.GetString("dest.dudewhere_bucket")))
	if err != nil {
		return nil, fmt.Errorf("failed to init dudewhere store: %w", err)
	}

	table, err := blockindex.New(ctx, blockindex.Config{
		Region:   viper.GetString("blockindex.region"),
		Table:    viper.GetString("blockindex.table"),
		Endpoint: viper.GetString("blockindex.endpoint"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init block index table: %w", err)
	}

	return &App{
		Logger:             logger,
		Carpark:            carpark,
		Satnav:             satnav,
		Dudewhere:          dudewhere,
		BlockIndex:         table,
		destRegion:         viper.GetString("dest.region"),
		carparkBucket:      viper.GetString("dest.carpark_bucket"),
		srcAccessKeyID:     viper.GetString("src.access_key_id"),
		srcSecretAccessKey: viper.GetString("src.secret_access_key"),
	}, nil
}

// SourceStore 按请求里的 ObjectRef 构造源端客户端。
// 请求没带凭证时补上配置里的源端凭证 (都没有就走 SDK 默认链)。
func (a *App) SourceStore(ctx context.Context, ref types.ObjectRef) (storage.Store, error) {
	cfg := s3.FromObjectRef(ref)
	if cfg.AccessKeyID == "" {
		cfg.AccessKeyID = a.srcAccessKeyID
		cfg.SecretAccessKey = a.srcSecretAccessKey
	}
	store, err := s3.NewAdapter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init source store: %w", err)
	}
	return store, nil
}

// CopyStores 把源端客户端和三个目的端客户端打包给 copier。
func (a *App) CopyStores(src storage.Store) copier.Stores {
	return copier.Stores{
		Source:    src,
		Carpark:   a.Carpark,
		Satnav:    a.Satnav,
		Dudewhere: a.Dudewhere,
	}
}

// CanonicalCarPath 返回 shard 迁移后在 block-index 表里的规范位置。
func (a *App) CanonicalCarPath(shard cid.Cid) string {
	return types.CanonicalCarPath(a.destRegion, a.carparkBucket, shard)
}
