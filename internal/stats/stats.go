// Package stats aggregates run-level crawl counters.
package stats

import (
	"sync"
	"time"
)

// Counter names a run-level counter.
type Counter string

const (
	TotalJobs       Counter = "total_jobs"
	CompletedJobs   Counter = "completed_jobs"
	NoResultJobs    Counter = "no_result_jobs"
	ErrorJobs       Counter = "error_jobs"
	TotalStores     Counter = "total_stores"
	NewStores       Counter = "new_stores"
	DuplicateStores Counter = "duplicate_stores"
	NoPhoneStores   Counter = "no_phone_stores"
	CachedStores    Counter = "cached_stores"
	FailedWrites    Counter = "failed_writes"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalJobs       int64     `json:"total_jobs"`
	CompletedJobs   int64     `json:"completed_jobs"`
	NoResultJobs    int64     `json:"no_result_jobs"`
	ErrorJobs       int64     `json:"error_jobs"`
	TotalStores     int64     `json:"total_stores"`
	NewStores       int64     `json:"new_stores"`
	DuplicateStores int64     `json:"duplicate_stores"`
	NoPhoneStores   int64     `json:"no_phone_stores"`
	CachedStores    int64     `json:"cached_stores"`
	FailedWrites    int64     `json:"failed_writes"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitzero"`
}

// Elapsed returns the run duration, measured to now while the run is open.
func (s Snapshot) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Stats holds monotonically increasing counters behind its own mutex.
type Stats struct {
	mu        sync.Mutex
	counts    map[Counter]int64
	start     time.Time
	end       time.Time
	finalized bool
	now       func() time.Time
}

// New returns zeroed counters.
func New() *Stats {
	return &Stats{counts: make(map[Counter]int64), now: time.Now}
}

// Start records the start time and the number of submitted jobs.
func (s *Stats) Start(totalJobs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.now()
	s.counts[TotalJobs] += int64(totalJobs)
}

// Incr adds one to c.
func (s *Stats) Incr(c Counter) {
	s.Add(c, 1)
}

// Add adds n to c. Negative values are ignored so counters never decrease.
func (s *Stats) Add(c Counter, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.counts[c] += int64(n)
	s.mu.Unlock()
}

// Get returns the current value of c.
func (s *Stats) Get(c Counter) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[c]
}

// Finalize records the end time. Only the first call has an effect.
func (s *Stats) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	s.end = s.now()
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalJobs:       s.counts[TotalJobs],
		CompletedJobs:   s.counts[CompletedJobs],
		NoResultJobs:    s.counts[NoResultJobs],
		ErrorJobs:       s.counts[ErrorJobs],
		TotalStores:     s.counts[TotalStores],
		NewStores:       s.counts[NewStores],
		DuplicateStores: s.counts[DuplicateStores],
		NoPhoneStores:   s.counts[NoPhoneStores],
		CachedStores:    s.counts[CachedStores],
		FailedWrites:    s.counts[FailedWrites],
		StartTime:       s.start,
		EndTime:         s.end,
	}
}
