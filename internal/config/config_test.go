package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Crawl.MaxWorkers)
	assert.Equal(t, time.Second, cfg.Crawl.InterItemDelay())
	assert.Equal(t, 3*time.Second, cfg.Crawl.InterJobDelay())
	assert.Equal(t, 50, cfg.Crawl.DefaultMaxItems)
	assert.Equal(t, "https://www.google.com/maps/search/", cfg.Crawl.SearchBaseURL)
	assert.Equal(t, 2000, cfg.Crawl.DetailSettleMs)
	assert.Equal(t, 15, cfg.Session.ReadyTimeoutSecs)
	assert.Equal(t, 5000, cfg.Session.SettleDelayMs)
	assert.False(t, cfg.Session.PreferProxy)
	assert.Equal(t, 3, cfg.Proxy.RetryCount)
	assert.Equal(t, 2000, cfg.Proxy.BaseDelayMs)
	assert.Empty(t, cfg.Proxy.Endpoints)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.LockTimeoutSecs)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
crawl:
  max_workers: 4
store:
  driver: sqlite
  database_url: file:crawl.db
proxy:
  endpoints:
    - 10.0.0.1:3128
    - user:pw@10.0.0.2:3128
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Crawl.MaxWorkers)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:crawl.db", cfg.Store.DatabaseURL)
	assert.Equal(t, []string{"10.0.0.1:3128", "user:pw@10.0.0.2:3128"}, cfg.Proxy.Endpoints)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Crawl.InterItemDelayMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CRAWLER_STORE_DRIVER", "postgres")
	t.Setenv("CRAWLER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CRAWLER_CRAWL_MAX_WORKERS", "3")
	t.Setenv("CRAWLER_SESSION_PREFER_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Crawl.MaxWorkers)
	assert.True(t, cfg.Session.PreferProxy)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "hanoi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  max_workers: 6\ncache:\n  driver: redis\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Crawl.MaxWorkers)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "listings:detail:", cfg.Cache.RedisPrefix, "defaults still apply")
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("crawl: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validConfig returns a Config that passes validation.
func validConfig() *Config {
	cfg := &Config{}
	cfg.Crawl.MaxWorkers = 2
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "file:test.db"
	cfg.Cache.Driver = "memory"
	return cfg
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Workers(t *testing.T) {
	cfg := validConfig()
	cfg.Crawl.MaxWorkers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers must be at least 1")
}

func TestValidate_Store(t *testing.T) {
	cfg := validConfig()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg = validConfig()
	cfg.Store.Driver = "mysql"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidate_Cache(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Driver = "redis"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis_addr is required")

	cfg.Cache.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())

	cfg.Cache.Driver = "memcached"
	assert.Error(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{}
	cfg.Crawl.InterItemDelayMs = -1
	cfg.Proxy.RetryCount = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
	assert.Contains(t, err.Error(), "delays must not be negative")
	assert.Contains(t, err.Error(), "retry_count")
	assert.Contains(t, err.Error(), "store.driver")
}
