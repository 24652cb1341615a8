package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/cache"
	"github.com/sells-group/listings-crawler/internal/crawl"
	"github.com/sells-group/listings-crawler/internal/extract"
	"github.com/sells-group/listings-crawler/internal/proxy"
	"github.com/sells-group/listings-crawler/internal/resilience"
	"github.com/sells-group/listings-crawler/internal/session"
	"github.com/sells-group/listings-crawler/internal/sink"
)

// crawlEnv holds the initialized sink, cache, and orchestrator needed by the
// crawl command.
type crawlEnv struct {
	Sink         *sink.Sink
	Cache        cache.Cache
	Proxies      *proxy.Pool
	Orchestrator *crawl.Orchestrator

	redis *redis.Client // may be nil
}

// Close releases resources held by the crawl environment.
func (ce *crawlEnv) Close() {
	if ce.redis != nil {
		_ = ce.redis.Close()
	}
	if ce.Sink != nil {
		_ = ce.Sink.Close()
	}
}

// initSink opens the configured backend and wraps it in a dedup sink.
func initSink(ctx context.Context) (*sink.Sink, error) {
	lockTimeout := time.Duration(cfg.Store.LockTimeoutSecs) * time.Second

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "listings.db"
		}
		b, err := sink.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return sink.New(b, lockTimeout), nil
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for postgres (CRAWLER_STORE_DATABASE_URL)")
		}
		b, err := sink.NewPostgres(ctx, cfg.Store.DatabaseURL, &sink.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return sink.New(b, lockTimeout), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCache returns the configured detail cache. A redis cache that cannot
// be reached degrades to the in-process cache.
func initCache(ctx context.Context) (cache.Cache, *redis.Client) {
	if cfg.Cache.Driver != "redis" {
		return cache.NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis cache unreachable, using in-process cache",
			zap.String("addr", cfg.Cache.RedisAddr),
			zap.Error(err),
		)
		_ = client.Close()
		return cache.NewMemory(), nil
	}

	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	zap.L().Info("redis detail cache enabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Duration("ttl", ttl))
	return cache.NewRedis(client, cfg.Cache.RedisPrefix, ttl), client
}

// initProxies builds the proxy pool from configured endpoints.
func initProxies() (*proxy.Pool, error) {
	endpoints, err := proxy.ParseEndpoints(cfg.Proxy.Endpoints)
	if err != nil {
		return nil, err
	}
	return proxy.NewPool(endpoints, resilience.FromMillis(cfg.Proxy.BaseDelayMs, cfg.Proxy.MaxDelayMs)), nil
}

// initCrawl validates configuration and wires the orchestrator. Callers
// should defer env.Close().
func initCrawl(ctx context.Context, workers int) (*crawlEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := initProxies()
	if err != nil {
		return nil, err
	}

	sk, err := initSink(ctx)
	if err != nil {
		return nil, err
	}
	if err := sk.Migrate(ctx); err != nil {
		_ = sk.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	detailCache, redisClient := initCache(ctx)

	factory := session.NewFactory(
		session.NewHTTPDriver(time.Duration(cfg.Session.RequestTimeoutSecs)*time.Second),
		pool,
		session.Config{
			MaxRetries:   cfg.Proxy.RetryCount,
			ReadyTimeout: time.Duration(cfg.Session.ReadyTimeoutSecs) * time.Second,
			SettleDelay:  time.Duration(cfg.Session.SettleDelayMs) * time.Millisecond,
			UserAgent:    cfg.Session.UserAgent,
		},
	)

	if workers <= 0 {
		workers = cfg.Crawl.MaxWorkers
	}

	orch := crawl.New(crawl.Deps{
		Sessions:  factory,
		Extractor: extract.NewListings(),
		Details: extract.NewDetails(
			time.Duration(cfg.Crawl.DetailTimeoutSecs)*time.Second,
			time.Duration(cfg.Crawl.DetailSettleMs)*time.Millisecond,
		),
		Cache: detailCache,
		Sink:  sk,
		URLs:  extract.SearchURLBuilder(cfg.Crawl.SearchBaseURL),
	}, crawl.Options{
		Workers:        workers,
		InterItemDelay: cfg.Crawl.InterItemDelay(),
		InterJobDelay:  cfg.Crawl.InterJobDelay(),
		PreferProxy:    cfg.Session.PreferProxy,
	})

	zap.L().Info("crawl environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("proxies", pool.Len()),
		zap.Int("workers", workers),
	)

	return &crawlEnv{
		Sink:         sk,
		Cache:        detailCache,
		Proxies:      pool,
		Orchestrator: orch,
		redis:        redisClient,
	}, nil
}
