// Package sink persists store records behind a single timed lock, skipping
// records without a usable phone and records whose phone is already stored.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/listings-crawler/internal/model"
)

// DefaultLockTimeout bounds how long Insert waits for the write lock.
const DefaultLockTimeout = 10 * time.Second

// ErrLockTimeout is returned when the write lock could not be acquired in time.
var ErrLockTimeout = eris.New("sink: lock timeout")

// OutcomeKind classifies the result of an insert.
type OutcomeKind string

const (
	Inserted         OutcomeKind = "inserted"
	SkippedDuplicate OutcomeKind = "skipped_duplicate"
	SkippedNoPhone   OutcomeKind = "skipped_no_phone"
	Failed           OutcomeKind = "failed"
)

// Outcome is the result of Sink.Insert. ID is set only for Inserted.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	ID     string
}

func failed(reason string) Outcome {
	return Outcome{Kind: Failed, Reason: reason}
}

// Row is a persisted record as read back from storage.
type Row struct {
	ID string
	model.StoreRecord
	CreatedAt time.Time
}

// ListFilter narrows List results. Empty strings match everything.
type ListFilter struct {
	Keyword  string
	Location string
	Limit    int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Backend is durable storage for store records.
type Backend interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
	Migrate(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]Row, error)
	Close() error
}

// Tx is one dedup-check and write unit.
type Tx interface {
	PhoneExists(ctx context.Context, phone string) (bool, error)
	Upsert(ctx context.Context, id string, rec model.StoreRecord, phone string, at time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Sink serializes every dedup-check and write through one weighted
// semaphore acquired with a timeout.
type Sink struct {
	backend     Backend
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger
}

// New creates a Sink over backend. A non-positive lockTimeout uses
// DefaultLockTimeout.
func New(backend Backend, lockTimeout time.Duration) *Sink {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Sink{
		backend:     backend,
		sem:         semaphore.NewWeighted(1),
		lockTimeout: lockTimeout,
		now:         time.Now,
		log:         zap.L().With(zap.String("component", "sink")),
	}
}

// NewRecordID derives a storage id from the listing's natural id plus a
// time and random component, so retries never collide on the primary key.
func NewRecordID(externalID string, now time.Time) string {
	if externalID == "" {
		externalID = "store"
	}
	return fmt.Sprintf("%s_%d_%s", externalID, now.UnixNano(), uuid.NewString()[:8])
}

// Insert applies the dedup policy and writes rec when its phone is new.
// It never blocks longer than the lock timeout waiting for other writers.
func (s *Sink) Insert(ctx context.Context, rec model.StoreRecord) Outcome {
	phone, ok := rec.UsablePhone()
	if !ok {
		return Outcome{Kind: SkippedNoPhone, Reason: "no usable phone"}
	}

	if err := s.lock(ctx); err != nil {
		if eris.Is(err, ErrLockTimeout) {
			s.log.Warn("lock timeout", zap.String("link", rec.Link), zap.Duration("timeout", s.lockTimeout))
			return failed("lock timeout")
		}
		return failed(err.Error())
	}
	defer s.sem.Release(1)

	out, err := s.write(ctx, rec, phone)
	if err != nil {
		s.log.Error("write failed", zap.String("link", rec.Link), zap.Error(err))
		return failed(err.Error())
	}
	return out
}

func (s *Sink) lock(ctx context.Context) error {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.sem.Acquire(lctx, 1); err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "sink: acquire lock")
		}
		return ErrLockTimeout
	}
	return nil
}

// write runs inside the critical section.
func (s *Sink) write(ctx context.Context, rec model.StoreRecord, phone string) (Outcome, error) {
	if err := s.backend.Ping(ctx); err != nil {
		s.log.Warn("connection lost, reconnecting", zap.Error(err))
		if err := s.backend.Reconnect(ctx); err != nil {
			return Outcome{}, eris.Wrap(err, "sink: reconnect")
		}
	}

	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "sink: begin")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	exists, err := tx.PhoneExists(ctx, phone)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "sink: check phone")
	}
	if exists {
		return Outcome{Kind: SkippedDuplicate, Reason: "phone already stored"}, nil
	}

	now := s.now()
	id := NewRecordID(rec.ExternalID, now)
	if err := tx.Upsert(ctx, id, rec, phone, now); err != nil {
		return Outcome{}, eris.Wrap(err, "sink: upsert")
	}
	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, eris.Wrap(err, "sink: commit")
	}
	committed = true
	return Outcome{Kind: Inserted, ID: id}, nil
}

// Migrate creates the stores table if needed.
func (s *Sink) Migrate(ctx context.Context) error {
	return s.backend.Migrate(ctx)
}

// Count returns the number of persisted records.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	return s.backend.Count(ctx)
}

// List returns persisted records, newest first.
func (s *Sink) List(ctx context.Context, filter ListFilter) ([]Row, error) {
	return s.backend.List(ctx, filter)
}

// Close releases the backend.
func (s *Sink) Close() error {
	return s.backend.Close()
}

// fieldFromNull converts a nullable column back into a detail field.
func fieldFromNull(v *string) model.Field {
	if v == nil {
		return model.Field{Status: model.FieldNotFound}
	}
	return model.Found(*v)
}
