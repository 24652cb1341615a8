package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Crawl   CrawlConfig   `yaml:"crawl" mapstructure:"crawl"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Proxy   ProxyConfig   `yaml:"proxy" mapstructure:"proxy"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// CrawlConfig configures the batch orchestrator.
type CrawlConfig struct {
	MaxWorkers        int    `yaml:"max_workers" mapstructure:"max_workers"`
	InterItemDelayMs  int    `yaml:"inter_item_delay_ms" mapstructure:"inter_item_delay_ms"`
	InterJobDelayMs   int    `yaml:"inter_job_delay_ms" mapstructure:"inter_job_delay_ms"`
	DefaultMaxItems   int    `yaml:"default_max_items" mapstructure:"default_max_items"`
	SearchBaseURL     string `yaml:"search_base_url" mapstructure:"search_base_url"`
	DetailTimeoutSecs int    `yaml:"detail_timeout_secs" mapstructure:"detail_timeout_secs"`
	DetailSettleMs    int    `yaml:"detail_settle_ms" mapstructure:"detail_settle_ms"`
}

// InterItemDelay returns the spacing between items of one job.
func (c CrawlConfig) InterItemDelay() time.Duration {
	return time.Duration(c.InterItemDelayMs) * time.Millisecond
}

// InterJobDelay returns the pause between jobs of a single-worker run.
func (c CrawlConfig) InterJobDelay() time.Duration {
	return time.Duration(c.InterJobDelayMs) * time.Millisecond
}

// SessionConfig configures session readiness and identity.
type SessionConfig struct {
	ReadyTimeoutSecs   int    `yaml:"ready_timeout_secs" mapstructure:"ready_timeout_secs"`
	SettleDelayMs      int    `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	PreferProxy        bool   `yaml:"prefer_proxy" mapstructure:"prefer_proxy"`
}

// ProxyConfig configures the egress proxy pool and its retry policy.
type ProxyConfig struct {
	RetryCount  int      `yaml:"retry_count" mapstructure:"retry_count"`
	BaseDelayMs int      `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int      `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Endpoints   []string `yaml:"endpoints" mapstructure:"endpoints"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	LockTimeoutSecs int    `yaml:"lock_timeout_secs" mapstructure:"lock_timeout_secs"`
	MaxConns        int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns        int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the detail cache.
type CacheConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	RedisAddr   string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike the default
// ./config.yaml, an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crawl.max_workers", 1)
	v.SetDefault("crawl.inter_item_delay_ms", 1000)
	v.SetDefault("crawl.inter_job_delay_ms", 3000)
	v.SetDefault("crawl.default_max_items", 50)
	v.SetDefault("crawl.search_base_url", "https://www.google.com/maps/search/")
	v.SetDefault("crawl.detail_timeout_secs", 15)
	v.SetDefault("crawl.detail_settle_ms", 2000)
	v.SetDefault("session.ready_timeout_secs", 15)
	v.SetDefault("session.settle_delay_ms", 5000)
	v.SetDefault("session.request_timeout_secs", 30)
	v.SetDefault("session.prefer_proxy", false)
	v.SetDefault("proxy.retry_count", 3)
	v.SetDefault("proxy.base_delay_ms", 2000)
	v.SetDefault("proxy.max_delay_ms", 30000)
	v.SetDefault("proxy.endpoints", []string{})
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.lock_timeout_secs", 10)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_prefix", "listings:detail:")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a crawl needs before any job starts.
func (c *Config) Validate() error {
	var problems []string

	if c.Crawl.MaxWorkers < 1 {
		problems = append(problems, "crawl.max_workers must be at least 1")
	}
	if c.Crawl.InterItemDelayMs < 0 || c.Crawl.InterJobDelayMs < 0 {
		problems = append(problems, "crawl delays must not be negative")
	}
	if c.Proxy.RetryCount < 0 {
		problems = append(problems, "proxy.retry_count must not be negative")
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	switch c.Cache.Driver {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			problems = append(problems, "cache.redis_addr is required for the redis cache")
		}
	default:
		problems = append(problems, "cache.driver must be memory or redis")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
