package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listings-crawler/internal/cache"
	"github.com/sells-group/listings-crawler/internal/config"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Crawl: config.CrawlConfig{MaxWorkers: 2, DefaultMaxItems: 50},
		Store: config.StoreConfig{
			Driver:          "sqlite",
			DatabaseURL:     filepath.Join(t.TempDir(), "test.db"),
			LockTimeoutSecs: 5,
		},
		Cache: config.CacheConfig{Driver: "memory"},
	}
}

func TestInitSink_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)

	sk, err := initSink(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sk)
	defer sk.Close() //nolint:errcheck
}

func TestInitSink_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	sk, err := initSink(context.Background())
	require.NoError(t, err)
	defer sk.Close() //nolint:errcheck
	require.NoError(t, sk.Migrate(context.Background()))

	_, statErr := os.Stat(filepath.Join(tmpDir, "listings.db"))
	assert.NoError(t, statErr)
}

func TestInitSink_PostgresRequiresURL(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres"}}

	sk, err := initSink(context.Background())
	assert.Nil(t, sk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url is required")
}

func TestInitSink_UnknownDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	sk, err := initSink(context.Background())
	assert.Nil(t, sk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitCache_Memory(t *testing.T) {
	cfg = sqliteConfig(t)

	c, client := initCache(context.Background())
	assert.Nil(t, client)
	assert.IsType(t, &cache.Memory{}, c)
}

func TestInitCache_RedisUnreachableFallsBack(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Cache.Driver = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	c, client := initCache(context.Background())
	assert.Nil(t, client)
	assert.IsType(t, &cache.Memory{}, c)
}

func TestInitProxies(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Proxy.Endpoints = []string{"10.0.0.1:3128", "user:pw@10.0.0.2:3128", "10.0.0.1:3128"}

	pool, err := initProxies()
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Len(), "duplicate endpoints collapse")

	cfg.Proxy.Endpoints = []string{"not a proxy"}
	_, err = initProxies()
	assert.Error(t, err)
}

func TestInitCrawl_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)

	env, err := initCrawl(context.Background(), 0)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Orchestrator)
	assert.NotEmpty(t, env.Orchestrator.CrawlSession())
	assert.Equal(t, 0, env.Proxies.Len())

	n, err := env.Sink.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "schema is migrated on init")
}

func TestInitCrawl_InvalidConfig(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Crawl.MaxWorkers = 0

	env, err := initCrawl(context.Background(), 0)
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}

func TestCrawlEnv_Close_Nil(t *testing.T) {
	ce := &crawlEnv{}
	assert.NotPanics(t, func() { ce.Close() })
}
