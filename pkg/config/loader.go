package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
//
// 优先级: 显式 flag > 环境变量 > 配置文件 > 默认值
// 环境变量名是部署环境约定好的原名 (DEST_ENDPOINT 等)，不加前缀。
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("carmover")
	}

	// 3. 环境变量绑定 (按部署环境约定的原名)
	bindEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没有配置文件不算错 (生产环境只用环境变量)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func bindEnv() {
	// 目的端对象存储 (R2 或其它 S3 兼容端点)
	viper.BindEnv("dest.endpoint", "DEST_ENDPOINT")
	viper.BindEnv("dest.region", "DEST_REGION")
	viper.BindEnv("dest.access_key_id", "DEST_ACCESS_KEY_ID")
	viper.BindEnv("dest.secret_access_key", "DEST_SECRET_ACCESS_KEY")

	// 三个目的 bucket
	viper.BindEnv("dest.carpark_bucket", "CARPARK_BUCKET")
	viper.BindEnv("dest.satnav_bucket", "SATNAV_BUCKET")
	viper.BindEnv("dest.dudewhere_bucket", "DUDEWHERE_BUCKET")

	// block-index 表
	viper.BindEnv("blockindex.region", "BLOCK_INDEX_REGION")
	viper.BindEnv("blockindex.table", "BLOCK_INDEX_TABLE")

	// 源端凭证 (凭证发现属于外部协作方，这里只认环境变量)
	viper.BindEnv("src.access_key_id", "SRC_ACCESS_KEY_ID")
	viper.BindEnv("src.secret_access_key", "SRC_SECRET_ACCESS_KEY")

	viper.BindEnv("server.port", "PORT")

	// 可选的存在性缓存 (未设置就直连对象存储)
	viper.BindEnv("cache.redis_url", "CACHE_REDIS_URL")
}

func setDefaults() {
	viper.SetDefault("dest.region", "auto")
	viper.SetDefault("dest.carpark_bucket", "carpark-prod-0")
	viper.SetDefault("dest.satnav_bucket", "satnav-prod-0")
	viper.SetDefault("dest.dudewhere_bucket", "dudewhere-prod-0")

	viper.SetDefault("blockindex.region", "us-west-2")
	viper.SetDefault("blockindex.table", "blocks-cars-position")

	viper.SetDefault("server.port", 8000)

	// 驱动器默认值
	viper.SetDefault("driver.concurrency", 25)
	viper.SetDefault("driver.retries", 3)

	viper.SetDefault("cache.ttl", "24h")
}
