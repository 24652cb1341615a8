package crawl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/sells-group/listings-crawler/internal/cache"
	"github.com/sells-group/listings-crawler/internal/model"
	"github.com/sells-group/listings-crawler/internal/stats"
)

// WriteSummary writes the end-of-run report. dbCount < 0 omits the total
// persisted row count.
func WriteSummary(out io.Writer, snap stats.Snapshot, jobs []*model.Job, dbCount int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tKEYWORD\tLOCATION\tSTATUS\tFOUND\tNEW\tDUP\tNO_PHONE\tCACHED\tERROR")
	_, _ = fmt.Fprintln(w, "---\t-------\t--------\t------\t-----\t---\t---\t--------\t------\t-----")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Keyword, j.Location, j.Status,
			j.StoresFound, j.NewStores, j.DuplicateStores, j.NoPhoneStores, j.CachedStores,
			truncate(j.ErrorDetail, 40),
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Jobs:\t%d\n", snap.TotalJobs)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", snap.CompletedJobs)
	_, _ = fmt.Fprintf(w, "  No results:\t%d\n", snap.NoResultJobs)
	_, _ = fmt.Fprintf(w, "  Errors:\t%d\n", snap.ErrorJobs)
	_, _ = fmt.Fprintf(w, "Stores processed:\t%d\n", snap.TotalStores)
	_, _ = fmt.Fprintf(w, "  New:\t%d\n", snap.NewStores)
	_, _ = fmt.Fprintf(w, "  Duplicate:\t%d\n", snap.DuplicateStores)
	_, _ = fmt.Fprintf(w, "  No phone:\t%d\n", snap.NoPhoneStores)
	_, _ = fmt.Fprintf(w, "  From cache:\t%d\n", snap.CachedStores)
	_, _ = fmt.Fprintf(w, "  Failed writes:\t%d\n", snap.FailedWrites)
	if dbCount >= 0 {
		_, _ = fmt.Fprintf(w, "Stores in database:\t%d\n", dbCount)
	}
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", snap.Elapsed().Round(time.Second))
	_ = w.Flush()
}

// WriteCacheSummary writes the detail cache's counters for the run.
func WriteCacheSummary(out io.Writer, cs cache.Stats) {
	_, _ = fmt.Fprintf(out, "Detail cache: %d hits, %d misses (%.0f%% hit rate), %d entries\n",
		cs.Hits, cs.Misses, cs.HitRate*100, cs.Entries)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
