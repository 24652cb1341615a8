// Package session opens ready, navigated browsing sessions, falling back to
// proxied egress with bounded retry when the direct path fails.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/proxy"
	"github.com/sells-group/listings-crawler/internal/resilience"
)

// Session is a single rendering context. It is owned by the worker that
// opened it and must be closed exactly once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context) error
	HTML() string
	CurrentURL() string
	Title() string
	Close() error
}

// LaunchOptions configure a new session.
type LaunchOptions struct {
	Proxy     *proxy.Endpoint // nil = direct
	UserAgent string
}

// Driver is the rendering engine that creates sessions.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// InitError reports that no session could be opened for a target.
type InitError struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session init failed: %s (attempts=%d): %v", e.Reason, e.Attempts, e.Err)
	}
	return fmt.Sprintf("session init failed: %s (attempts=%d)", e.Reason, e.Attempts)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Config controls readiness waits and proxy retries.
type Config struct {
	MaxRetries   int
	ReadyTimeout time.Duration
	SettleDelay  time.Duration
	UserAgent    string
}

// DefaultConfig returns the defaults used when values are unset.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		ReadyTimeout: 15 * time.Second,
		SettleDelay:  5 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Factory opens sessions through a Driver, using a proxy Pool for the
// fallback path.
type Factory struct {
	driver Driver
	pool   *proxy.Pool
	cfg    Config

	// sleep allows test injection of backoff and settle waits.
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewFactory creates a Factory. A nil pool behaves as an empty pool.
func NewFactory(driver Driver, pool *proxy.Pool, cfg Config) *Factory {
	d := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = d.ReadyTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if pool == nil {
		pool = proxy.NewPool(nil, resilience.DefaultBackoff())
	}
	return &Factory{
		driver:  driver,
		pool:    pool,
		cfg:     cfg,
		sleep:   resilience.Sleep,
		onRetry: resilience.RetryLogger("session.factory", "open"),
	}
}

// Open returns a session navigated to targetURL. Unless preferProxy is set,
// a direct session is tried once first; any failure escalates to the
// proxied path. The returned error is always an *InitError.
func (f *Factory) Open(ctx context.Context, targetURL string, preferProxy bool) (Session, error) {
	log := zap.L().With(zap.String("component", "session.factory"), zap.String("url", targetURL))

	if !preferProxy {
		s, err := f.launch(ctx, targetURL, nil)
		if err == nil {
			log.Debug("direct session ready")
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, &InitError{Reason: "cancelled", Attempts: 1, Err: err}
		}
		log.Warn("direct session failed, falling back to proxy", zap.Error(err))
	}

	return f.openProxied(ctx, targetURL)
}

// openProxied runs the bounded retry loop. The attempt counter is local to
// this call so each job starts from attempt 0.
func (f *Factory) openProxied(ctx context.Context, targetURL string) (Session, error) {
	for attempt := 0; ; attempt++ {
		ep, ok := f.pool.Acquire()
		if !ok {
			return nil, &InitError{Reason: "proxy pool empty", Attempts: attempt, Err: proxy.ErrNoUsableProxy}
		}

		s, err := f.launch(ctx, targetURL, &ep)
		if err == nil {
			zap.L().Debug("proxied session ready",
				zap.String("proxy", ep.Key()),
				zap.Int("attempt", attempt),
			)
			return s, nil
		}
		f.pool.MarkFailed(ep)

		if ctx.Err() != nil {
			return nil, &InitError{Reason: "cancelled", Attempts: attempt + 1, Err: err}
		}
		if attempt >= f.cfg.MaxRetries {
			return nil, &InitError{Reason: "retries exhausted", Attempts: attempt + 1, Err: err}
		}

		delay := f.pool.RetryDelay(attempt)
		if f.onRetry != nil {
			f.onRetry(attempt+1, delay, err)
		}
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &InitError{Reason: "cancelled", Attempts: attempt + 1, Err: err}
		}
	}
}

// launch creates one session and brings it to a ready state. The session is
// closed on any failure.
func (f *Factory) launch(ctx context.Context, targetURL string, ep *proxy.Endpoint) (Session, error) {
	s, err := f.driver.Launch(ctx, LaunchOptions{Proxy: ep, UserAgent: f.cfg.UserAgent})
	if err != nil {
		return nil, eris.Wrap(err, "session: launch")
	}

	if err := f.navigate(ctx, s, targetURL); err != nil {
		closeQuietly(s)
		return nil, err
	}

	if err := f.sleep(ctx, f.cfg.SettleDelay); err != nil {
		closeQuietly(s)
		return nil, eris.Wrap(err, "session: settle")
	}

	if TitleLooksBlocked(s.Title()) {
		zap.L().Warn("page title suggests the target blocked this session",
			zap.String("title", s.Title()),
			zap.String("url", s.CurrentURL()),
		)
	}
	return s, nil
}

// navigate loads targetURL and waits for readiness, bounded by ReadyTimeout.
func (f *Factory) navigate(ctx context.Context, s Session, targetURL string) error {
	readyCtx, cancel := context.WithTimeout(ctx, f.cfg.ReadyTimeout)
	defer cancel()

	if err := s.Navigate(readyCtx, targetURL); err != nil {
		return eris.Wrap(err, "session: navigate")
	}
	if err := s.WaitReady(readyCtx); err != nil {
		return eris.Wrap(err, "session: wait ready")
	}
	return nil
}

func closeQuietly(s Session) {
	if err := s.Close(); err != nil {
		zap.L().Debug("session close failed", zap.Error(err))
	}
}
