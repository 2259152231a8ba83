package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	require.NoError(t, Load(""))

	assert.Equal(t, "auto", viper.GetString("dest.region"))
	assert.Equal(t, "carpark-prod-0", viper.GetString("dest.carpark_bucket"))
	assert.Equal(t, "satnav-prod-0", viper.GetString("dest.satnav_bucket"))
	assert.Equal(t, "dudewhere-prod-0", viper.GetString("dest.dudewhere_bucket"))
	assert.Equal(t, "us-west-2", viper.GetString("blockindex.region"))
	assert.Equal(t, "blocks-cars-position", viper.GetString("blockindex.table"))
	assert.Equal(t, 8000, viper.GetInt("server.port"))
	assert.Equal(t, 25, viper.GetInt("driver.concurrency"))
	assert.Equal(t, 3, viper.GetInt("driver.retries"))
}

func TestLoadEnvOverrides(t *testing.T) {
	viper.Reset()

	// 环境变量用部署约定的原名，没有前缀
	t.Setenv("DEST_ENDPOINT", "https://example.r2.cloudflarestorage.com")
	t.Setenv("DEST_REGION", "auto")
	t.Setenv("CARPARK_BUCKET", "carpark-staging-0")
	t.Setenv("BLOCK_INDEX_TABLE", "staging-blocks")
	t.Setenv("PORT", "9090")

	require.NoError(t, Load(""))

	assert.Equal(t, "https://example.r2.cloudflarestorage.com", viper.GetString("dest.endpoint"))
	assert.Equal(t, "carpark-staging-0", viper.GetString("dest.carpark_bucket"))
	assert.Equal(t, "staging-blocks", viper.GetString("blockindex.table"))
	assert.Equal(t, 9090, viper.GetInt("server.port"))
}
