package commands

import (
	"context"
	"fmt"
	"os"

	"carmover/pkg/app"
	"carmover/pkg/config"
	"carmover/pkg/driver"
	"carmover/pkg/hasher"
	"carmover/pkg/logging"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string

	flagEndpoint  string
	flagRegion    string
	flagBucket    string
	flagMarkerURL string
	flagDebug     bool

	// 全局应用实例，供子命令使用
	CM      *app.App
	logger  *zap.Logger
	markers *driver.Markers
)

var rootCmd = &cobra.Command{
	Use:   "carmover",
	Short: "Carmover: batch driver for shard migration",
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(flagDebug)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		CM, err = app.NewApp(cmd.Context(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize carmover: %w", err)
		}

		if flagMarkerURL != "" {
			markers, err = driver.NewMarkers(flagMarkerURL, logger)
			if err != nil {
				return fmt.Errorf("invalid --marker-url: %w", err)
			}
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./carmover.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "source S3 endpoint (default AWS)")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "us-west-2", "source bucket region")
	rootCmd.PersistentFlags().StringVar(&flagBucket, "bucket", "", "source bucket name")
	rootCmd.PersistentFlags().StringVar(&flagMarkerURL, "marker-url", "", "redis URL for resumable-run markers")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	// 并发度和重试次数既可以用 flag 也可以写在配置里
	rootCmd.PersistentFlags().Int("concurrency", 25, "number of items processed in parallel")
	rootCmd.PersistentFlags().Int("retries", 3, "per-item retry attempts")
	mustBind("driver.concurrency", "concurrency")
	mustBind("driver.retries", "retries")
}

func mustBind(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}

// newPool 按全局参数构造执行池。
func newPool() *driver.Pool {
	return &driver.Pool{
		Concurrency: viper.GetInt("driver.concurrency"),
		Retries:     viper.GetInt("driver.retries"),
		Markers:     markers,
		Logger:      logger,
		Out:         os.Stdout,
	}
}

// sourceRef 把一条任务解析成源端 ObjectRef。
// 任务自带的 region/bucket 优先，缺省用全局 flag。
func sourceRef(item driver.Item) (types.ObjectRef, error) {
	ref := types.ObjectRef{
		Region:   item.Region,
		Bucket:   item.Bucket,
		Key:      item.Key,
		Endpoint: flagEndpoint,
	}
	if ref.Region == "" {
		ref.Region = flagRegion
	}
	if ref.Bucket == "" {
		ref.Bucket = flagBucket
	}
	if ref.Bucket == "" {
		return types.ObjectRef{}, fmt.Errorf("no bucket for key %s (use --bucket or put it in the manifest)", item.Key)
	}
	return ref, nil
}

// resolveShard 取任务里声明的 shard cid；没有就现算。
// 现算走的就是 hash 操作，同一套代码，结果必然一致。
func resolveShard(ctx context.Context, store storage.Store, ref types.ObjectRef, item driver.Item) (cid.Cid, error) {
	if item.Shard != "" {
		return types.ParseShardCID(item.Shard)
	}
	res, err := hasher.Hash(ctx, store, ref)
	if err != nil {
		return cid.Undef, err
	}
	return res.CID, nil
}
