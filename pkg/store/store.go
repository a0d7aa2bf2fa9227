// Package store is the persistence gateway. It owns every table and exposes
// typed repositories; no other package issues SQL. All mutating calls run in
// an implicit short transaction, and every upsert is idempotent on the
// entity's natural key.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// DefaultBulkChunkSize bounds a single bulk chunk when no override is set.
const DefaultBulkChunkSize = 500

// Store wraps the relational database and hands out repositories.
type Store struct {
	db        *sql.DB
	chunkSize int
	logger    *slog.Logger

	Users      *UserRepo
	Audit      *AuditRepo
	RateLimits *RateLimitRepo
	IPBlocks   *IPBlockRepo
	RequestLog *RequestLogRepo
	IPStats    *IPStatRepo
	SyncLog    *SyncLogRepo
	Jobs       *JobRepo
	Schedules  *ScheduleRepo
	Quran      *QuranRepo
	Hadith     *HadithRepo
	Prayer     *PrayerRepo
	Finance    *FinanceRepo
}

// Option configures a Store.
type Option func(*Store)

// WithBulkChunkSize overrides the bulk chunk size (must be >= 1).
func WithBulkChunkSize(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.chunkSize = n
		}
	}
}

// New creates a Store over an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		chunkSize: DefaultBulkChunkSize,
		logger:    slog.Default().With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Users = &UserRepo{s}
	s.Audit = &AuditRepo{s}
	s.RateLimits = &RateLimitRepo{s}
	s.IPBlocks = &IPBlockRepo{s}
	s.RequestLog = &RequestLogRepo{s}
	s.IPStats = &IPStatRepo{s}
	s.SyncLog = &SyncLogRepo{s}
	s.Jobs = &JobRepo{s}
	s.Schedules = &ScheduleRepo{s}
	s.Quran = &QuranRepo{s}
	s.Hadith = &HadithRepo{s}
	s.Prayer = &PrayerRepo{s}
	s.Finance = &FinanceRepo{s}
	return s
}

// Init creates all tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// DB exposes the raw handle for health checks only.
func (s *Store) DB() *sql.DB { return s.db }

// withTx runs fn in a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Upserts racing on the same natural key treat this as success.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// storageErr classifies a database error, passing already-classified errors
// through unchanged.
func storageErr(op, entity string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Storage(op, entity, err)
}

// ChunkError reports the failure of one chunk within a bulk operation. The
// failed chunk rolls back atomically; other chunks commit independently.
type ChunkError struct {
	ChunkIndex int
	Offset     int
	Size       int
	Err        error
}

func (c ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (offset %d, size %d): %v", c.ChunkIndex, c.Offset, c.Size, c.Err)
}

// inChunks invokes fn per chunk of n items; a failing chunk is recorded and
// the remaining chunks still run.
func (s *Store) inChunks(ctx context.Context, n int, fn func(tx *sql.Tx, lo, hi int) error) []ChunkError {
	var chunkErrs []ChunkError
	for i, lo := 0, 0; lo < n; i, lo = i+1, lo+s.chunkSize {
		hi := lo + s.chunkSize
		if hi > n {
			hi = n
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error { return fn(tx, lo, hi) })
		if err != nil {
			chunkErrs = append(chunkErrs, ChunkError{ChunkIndex: i, Offset: lo, Size: hi - lo, Err: err})
		}
	}
	return chunkErrs
}

// placeholder renders the n-th Postgres positional parameter.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// Pagination bounds a list query.
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// UpsertOutcome reports whether an upsert inserted a new row or updated an
// existing one.
type UpsertOutcome struct {
	Inserted bool
}

// scanUpsertOutcome reads the (xmax = 0) insert marker from a RETURNING row.
func scanUpsertOutcome(row *sql.Row, op, entity string) (UpsertOutcome, error) {
	var inserted bool
	if err := row.Scan(&inserted); err != nil {
		if isUniqueViolation(err) {
			// Concurrent upsert on the same natural key won the race.
			return UpsertOutcome{Inserted: false}, nil
		}
		return UpsertOutcome{}, storageErr(op, entity, err)
	}
	return UpsertOutcome{Inserted: inserted}, nil
}
