// Package store implements the Persistence Writer (spec.md §4.I): one
// connection pool per tenant database, idempotent upsert by primary key,
// batch capping/splitting, per-table locking and retry-then-drop on
// permanent failure. It also satisfies pkg/changedetect.Reader so the
// Change Detector reads through the same pools this package writes
// through. Grounded on the teacher's pkg/storage/postgres base store
// (Querier/transaction-in-context pattern), generalized from a
// single-table store per service into one pool-holding Writer shared by
// five record kinds.
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/resilience"
)

// PoolSettings carries the per-database connection pool limits from
// internal/config's DatabaseConfig through to the opened *sql.DB,
// mirroring the teacher's cmd/appserver configurePool step.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MaxBatchSize is the default cap on rows applied per upsert statement
// before a batch is split (spec.md §4.I).
const MaxBatchSize = 1000

// tableLocks serializes writes to the same (database, table) pair, the
// single piece of shared mutable state inside the write pipeline
// (spec.md §5).
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *tableLocks) lockFor(database, table string) *sync.Mutex {
	key := database + "|" + table
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Writer is the Persistence Writer. One Writer serves every tenant
// database; pools are created lazily per database id on first use.
type Writer struct {
	poolsMu sync.Mutex
	pools   map[string]*sqlx.DB
	dsnFor  func(database string) (string, PoolSettings, error)

	locks *tableLocks
	retry resilience.RetryConfig
}

// New constructs a Writer. dsnFor resolves a tenant database id to its
// connection string and pool limits (from internal/config's DatabaseConfig).
func New(dsnFor func(database string) (string, PoolSettings, error)) *Writer {
	return &Writer{
		pools:  make(map[string]*sqlx.DB),
		dsnFor: dsnFor,
		locks:  newTableLocks(),
		retry:  resilience.DefaultRetryConfig(),
	}
}

func (w *Writer) poolFor(database string) (*sqlx.DB, error) {
	w.poolsMu.Lock()
	defer w.poolsMu.Unlock()

	if pool, ok := w.pools[database]; ok {
		return pool, nil
	}
	dsn, settings, err := w.dsnFor(database)
	if err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "store.poolFor", err)
	}
	pool, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "store.poolFor", err)
	}
	if settings.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(settings.MaxIdleConns)
	}
	if settings.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(settings.ConnMaxLifetime)
	}
	w.pools[database] = pool
	return pool, nil
}

// Close closes every open pool, used during graceful shutdown.
func (w *Writer) Close() error {
	w.poolsMu.Lock()
	defer w.poolsMu.Unlock()
	var firstErr error
	for _, pool := range w.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpsertResult reports how many rows were applied and how many batches
// were dropped after exhausting retries.
type UpsertResult struct {
	Applied int
	Dropped int
}

// upsertBatch runs fn (one INSERT ... ON CONFLICT statement builder) over
// rows split into MaxBatchSize chunks, serialized by the (database,
// table) lock, retrying each chunk on transient failure and dropping it
// (logged by the caller) on permanent failure.
func upsertBatch[T any](ctx context.Context, w *Writer, database, table string, rows []T, apply func(tx *sqlx.Tx, chunk []T) error) (UpsertResult, error) {
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}
	pool, err := w.poolFor(database)
	if err != nil {
		return UpsertResult{}, err
	}

	lock := w.locks.lockFor(database, table)
	lock.Lock()
	defer lock.Unlock()

	var result UpsertResult
	for start := 0; start < len(rows); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		err := resilience.Retry(ctx, w.retry, func() error {
			tx, err := pool.BeginTxx(ctx, nil)
			if err != nil {
				return ferrors.New(ferrors.KindTransient, "store.upsertBatch", err)
			}
			if err := apply(tx, chunk); err != nil {
				_ = tx.Rollback()
				return classifyPGError(err)
			}
			if err := tx.Commit(); err != nil {
				return ferrors.New(ferrors.KindTransient, "store.upsertBatch", err)
			}
			return nil
		})
		if err != nil {
			result.Dropped += len(chunk)
			continue
		}
		result.Applied += len(chunk)
	}
	return result, nil
}

// isNoRows reports whether err is sql.ErrNoRows, the "no stored record"
// outcome of a Get* lookup.
func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

// splitTaskKey parses a model.Task.PrimaryKey() string ("serial|name|start_time")
// back into its three constituent columns.
func splitTaskKey(key string) (serial, name string, startTime int64, ok bool) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return "", "", 0, false
	}
	st, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], st, true
}

// splitEventKey parses a model.Event.PrimaryKey() string ("serial|event_id").
func splitEventKey(key string) (serial, eventID string, ok bool) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// splitChargingKey parses a model.ChargingSession.PrimaryKey() string
// ("serial|start_time|end_time").
func splitChargingKey(key string) (serial string, startTime, endTime int64, ok bool) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return "", 0, 0, false
	}
	st, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	et, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	return parts[0], st, et, true
}

// classifyPGError tags a raw database/sql error as transient (retry) or
// permanent (drop), per spec.md §7's "database constraint error" row.
// sql.ErrConnDone and sql.ErrTxDone are transient; everything else —
// constraint violations in particular — is treated as permanent since
// retrying will not change the row's shape.
func classifyPGError(err error) error {
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return ferrors.New(ferrors.KindTransient, "store", err)
	}
	return ferrors.New(ferrors.KindPermanent, "store", err)
}
