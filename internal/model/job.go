package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusNoResults JobStatus = "no_results"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status is one a job can finish in.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusNoResults, JobStatusError:
		return true
	default:
		return false
	}
}

// Job is one (keyword, location, cap) unit of work. A Job is mutated only by
// the worker executing it.
type Job struct {
	ID       int    `json:"id" yaml:"-"`
	Keyword  string `json:"keyword" yaml:"keyword"`
	Location string `json:"location" yaml:"location"`
	MaxItems int    `json:"max_items" yaml:"max_items"` // 0 = unbounded

	Status      JobStatus `json:"status" yaml:"-"`
	ErrorDetail string    `json:"error,omitempty" yaml:"-"`

	StoresFound     int `json:"stores_found" yaml:"-"`
	NewStores       int `json:"new_stores" yaml:"-"`
	DuplicateStores int `json:"duplicate_stores" yaml:"-"`
	NoPhoneStores   int `json:"no_phone_stores" yaml:"-"`
	CachedStores    int `json:"cached_stores" yaml:"-"`
}

// String returns a short label for logs.
func (j *Job) String() string {
	return fmt.Sprintf("#%d %q in %q", j.ID, j.Keyword, j.Location)
}

// Fail marks the job as errored with the given detail.
func (j *Job) Fail(detail string) {
	j.Status = JobStatusError
	j.ErrorDetail = detail
}

// NewCrawlSession returns the provenance tag shared by every record of one
// orchestrator run.
func NewCrawlSession(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s", now.Format("20060102_150405"), uuid.New().String()[:8])
}
