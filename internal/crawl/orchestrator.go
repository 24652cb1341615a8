// Package crawl runs batches of search jobs across a bounded worker pool.
// Each job opens its own session, lists candidates, resolves details through
// the shared cache, and writes records through the persistence sink.
package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/listings-crawler/internal/cache"
	"github.com/sells-group/listings-crawler/internal/model"
	"github.com/sells-group/listings-crawler/internal/resilience"
	"github.com/sells-group/listings-crawler/internal/session"
	"github.com/sells-group/listings-crawler/internal/sink"
	"github.com/sells-group/listings-crawler/internal/stats"
)

// SessionOpener produces a ready session navigated to a URL.
type SessionOpener interface {
	Open(ctx context.Context, targetURL string, preferProxy bool) (session.Session, error)
}

// Extractor lists candidate listings from a results page.
type Extractor interface {
	Extract(ctx context.Context, s session.Session) ([]model.Candidate, error)
}

// DetailScraper resolves detail fields for one listing link.
type DetailScraper interface {
	Scrape(ctx context.Context, s session.Session, link string) (model.DetailFields, error)
}

// Persister writes assembled records.
type Persister interface {
	Insert(ctx context.Context, rec model.StoreRecord) sink.Outcome
}

// URLBuilder returns the search URL for a job.
type URLBuilder func(keyword, location string) string

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Sessions  SessionOpener
	Extractor Extractor
	Details   DetailScraper
	Cache     cache.Cache
	Sink      Persister
	URLs      URLBuilder
}

// Options tune pool size and pacing.
type Options struct {
	// Workers is the number of jobs processed concurrently. Default: 1.
	Workers int

	// InterItemDelay is the minimum spacing between items of one job.
	InterItemDelay time.Duration

	// InterJobDelay is applied after each job, only when Workers == 1.
	InterJobDelay time.Duration

	// PreferProxy skips the direct session attempt.
	PreferProxy bool
}

// Orchestrator dispatches jobs to workers and aggregates their results.
type Orchestrator struct {
	deps    Deps
	opts    Options
	stats   *stats.Stats
	session string
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator with fresh counters and a new crawl session id.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		stats:   stats.New(),
		session: model.NewCrawlSession(time.Now()),
		sleep:   resilience.Sleep,
	}
}

// Stats returns the run counters.
func (o *Orchestrator) Stats() *stats.Stats {
	return o.stats
}

// CacheStats returns the detail cache's hit and miss counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.deps.Cache.Stats()
}

// CrawlSession returns the provenance tag attached to every record of this run.
func (o *Orchestrator) CrawlSession() string {
	return o.session
}

// Run processes jobs and returns them with their status populated. Jobs not
// started before ctx is cancelled stay pending; jobs in flight stop at their
// next item.
func (o *Orchestrator) Run(ctx context.Context, jobs []*model.Job) []*model.Job {
	o.stats.Start(len(jobs))

	zap.L().Info("starting crawl",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", o.opts.Workers),
		zap.String("crawl_session", o.session),
	)

	// Job failures are recorded on the job, so the group never cancels.
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		last := i == len(jobs)-1
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o.runJob(ctx, job)
			if o.opts.Workers == 1 && !last && o.opts.InterJobDelay > 0 {
				_ = o.sleep(ctx, o.opts.InterJobDelay)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.stats.Finalize()

	snap := o.stats.Snapshot()
	zap.L().Info("crawl complete",
		zap.Int64("completed_jobs", snap.CompletedJobs),
		zap.Int64("error_jobs", snap.ErrorJobs),
		zap.Int64("total_stores", snap.TotalStores),
		zap.Int64("new_stores", snap.NewStores),
		zap.Float64("cache_hit_rate", o.deps.Cache.Stats().HitRate),
		zap.Duration("elapsed", snap.Elapsed()),
	)
	return jobs
}

// runJob executes the per-job pipeline. It never returns an error: every
// failure ends up on the job.
func (o *Orchestrator) runJob(ctx context.Context, job *model.Job) {
	log := zap.L().With(
		zap.String("component", "crawl"),
		zap.Int("job_id", job.ID),
		zap.String("keyword", job.Keyword),
		zap.String("location", job.Location),
	)

	defer o.record(job)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r))
			job.Fail(fmt.Sprintf("job failure: %v", r))
		}
	}()

	target := o.deps.URLs(job.Keyword, job.Location)
	log.Info("job started", zap.String("url", target))

	sess, err := o.deps.Sessions.Open(ctx, target, o.opts.PreferProxy)
	if err != nil {
		log.Error("session open failed", zap.Error(err))
		job.Fail(err.Error())
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Debug("session close failed", zap.Error(err))
		}
	}()

	candidates, err := o.deps.Extractor.Extract(ctx, sess)
	if err != nil {
		log.Error("extract failed", zap.Error(err))
		job.Fail(eris.Wrap(err, "crawl: extract").Error())
		return
	}
	if len(candidates) == 0 {
		log.Info("no results")
		job.Status = model.JobStatusNoResults
		return
	}
	if job.MaxItems > 0 && len(candidates) > job.MaxItems {
		candidates = candidates[:job.MaxItems]
	}

	var limiter *rate.Limiter
	if o.opts.InterItemDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(o.opts.InterItemDelay), 1)
	}

	for i, c := range candidates {
		if ctx.Err() != nil {
			log.Warn("job cancelled", zap.Int("processed", job.StoresFound))
			job.Fail("cancelled")
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				job.Fail("cancelled")
				return
			}
		}
		o.processItem(ctx, log, sess, job, c)
		log.Debug("item processed", zap.Int("index", i+1), zap.Int("of", len(candidates)))
	}

	job.Status = model.JobStatusCompleted
	log.Info("job completed",
		zap.Int("stores_found", job.StoresFound),
		zap.Int("new_stores", job.NewStores),
		zap.Int("duplicate_stores", job.DuplicateStores),
	)
}

// processItem resolves one candidate and writes it. Failures are logged and
// never abort the job.
func (o *Orchestrator) processItem(ctx context.Context, log *zap.Logger, sess session.Session, job *model.Job, c model.Candidate) {
	job.StoresFound++

	fields, hit := o.deps.Cache.Get(ctx, c.Link)
	if hit {
		job.CachedStores++
		o.stats.Incr(stats.CachedStores)
	} else {
		var err error
		fields, err = o.deps.Details.Scrape(ctx, sess, c.Link)
		if err != nil {
			log.Warn("detail scrape failed", zap.String("link", c.Link), zap.Error(err))
			fields = model.ErrorDetails()
		}
		o.deps.Cache.Put(ctx, c.Link, fields)
	}

	rec := model.StoreRecord{
		Candidate:      c,
		DetailFields:   fields,
		SearchKeyword:  job.Keyword,
		SearchLocation: job.Location,
		CrawlSession:   o.session,
	}

	out := o.deps.Sink.Insert(ctx, rec)
	switch out.Kind {
	case sink.Inserted:
		job.NewStores++
		o.stats.Incr(stats.NewStores)
	case sink.SkippedDuplicate:
		job.DuplicateStores++
		o.stats.Incr(stats.DuplicateStores)
	case sink.SkippedNoPhone:
		job.NoPhoneStores++
		o.stats.Incr(stats.NoPhoneStores)
	default:
		o.stats.Incr(stats.FailedWrites)
		log.Warn("write failed", zap.String("link", c.Link), zap.String("reason", out.Reason))
	}
}

// record folds a finished job into the run counters.
func (o *Orchestrator) record(job *model.Job) {
	if !job.Status.Terminal() {
		job.Fail("job ended without a status")
	}
	o.stats.Add(stats.TotalStores, job.StoresFound)
	switch job.Status {
	case model.JobStatusCompleted:
		o.stats.Incr(stats.CompletedJobs)
	case model.JobStatusNoResults:
		o.stats.Incr(stats.NoResultJobs)
	default:
		o.stats.Incr(stats.ErrorJobs)
	}
}
