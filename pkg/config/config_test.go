package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"fodb/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	content := `data_dir: /tmp/fodb
store:
  partition: week
  block_size: 64
mysql:
  main:
    host: 127.0.0.1
    port: 3306
`
	fpath := filepath.Join(t.TempDir(), "config.yml")
	require.Nil(t, os.WriteFile(fpath, []byte(content), 0644))

	c, err := config.Load(fpath)
	require.Nil(t, err)
	require.Equal(t, "/tmp/fodb", c.DataDir)
	require.Equal(t, "week", c.Store.Partition)
	require.Equal(t, 64, c.Store.BlockSize)
	require.Equal(t, 16, c.Store.BtreeDegree)
	require.Equal(t, "NSE", c.Loader.Exchange)
	require.Equal(t, 3306, c.MySQL.Main.Port)
	require.Equal(t, 8, c.MySQL.Main.MaxOpenConns)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NotNil(t, err)
}

func TestDefault(t *testing.T) {
	c := config.Default("/data")
	require.Equal(t, "month", c.Store.Partition)
	require.Equal(t, 128, c.Store.BlockSize)
	require.Equal(t, "FODB", c.Nats.Stream)
	require.Equal(t, ":9109", c.Grpc.Addr)
	require.False(t, c.Grpc.Enabled)
	require.Equal(t, int64(3), int64(c.RedisTimeout().Seconds()))
}
