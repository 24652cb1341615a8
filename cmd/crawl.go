package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/cache"
	"github.com/sells-group/listings-crawler/internal/crawl"
	"github.com/sells-group/listings-crawler/internal/jobs"
	"github.com/sells-group/listings-crawler/internal/model"
	"github.com/sells-group/listings-crawler/internal/sink"
	"github.com/sells-group/listings-crawler/internal/stats"
)

var (
	crawlJobsFile string
	crawlWorkers  int
	crawlDryRun   bool
	crawlJSON     bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a batch of search jobs",
	Long:  "Reads keyword|location|max jobs, crawls each search across a worker pool, and writes deduplicated stores to the database.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		batch, err := jobs.Load(crawlJobsFile, cfg.Crawl.DefaultMaxItems)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return eris.Errorf("no valid jobs in %s", crawlJobsFile)
		}

		if crawlDryRun {
			formatJobs(os.Stdout, batch)
			return nil
		}

		env, err := initCrawl(ctx, crawlWorkers)
		if err != nil {
			return err
		}
		defer env.Close()

		return runCrawl(ctx, os.Stdout, env.Orchestrator, env.Sink, batch, crawlJSON)
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlJobsFile, "jobs", "jobs.txt", "job file (keyword|location|max per line, or .yaml)")
	crawlCmd.Flags().IntVar(&crawlWorkers, "workers", 0, "concurrent jobs (0 = crawl.max_workers)")
	crawlCmd.Flags().BoolVar(&crawlDryRun, "dry-run", false, "parse the job file and print the jobs without crawling")
	crawlCmd.Flags().BoolVar(&crawlJSON, "json", false, "print the run statistics as JSON instead of a table")
	rootCmd.AddCommand(crawlCmd)
}

// runCrawl runs the batch and reports the outcome. An interrupted run still
// prints its partial summary.
func runCrawl(ctx context.Context, out io.Writer, orch *crawl.Orchestrator, sk *sink.Sink, batch []*model.Job, asJSON bool) error {
	done := orch.Run(ctx, batch)
	snap := orch.Stats().Snapshot()

	// The run context may already be cancelled; the count is still wanted.
	dbCount, err := sk.Count(context.WithoutCancel(ctx))
	if err != nil {
		zap.L().Warn("count stores failed", zap.Error(err))
		dbCount = -1
	}

	cacheStats := orch.CacheStats()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		report := struct {
			stats.Snapshot
			Cache cache.Stats `json:"cache"`
		}{snap, cacheStats}
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode stats")
		}
	} else {
		crawl.WriteSummary(out, snap, done, dbCount)
		crawl.WriteCacheSummary(out, cacheStats)
	}

	if ctx.Err() != nil {
		return eris.New("crawl interrupted")
	}
	return nil
}

// formatJobs writes a table of parsed jobs to out.
func formatJobs(out io.Writer, batch []*model.Job) {
	_, _ = fmt.Fprintf(out, "%d job(s)\n", len(batch))
	for _, j := range batch {
		limit := "unbounded"
		if j.MaxItems > 0 {
			limit = fmt.Sprintf("max %d", j.MaxItems)
		}
		_, _ = fmt.Fprintf(out, "  %d. %s in %s (%s)\n", j.ID, j.Keyword, j.Location, limit)
	}
}
