package store

import (
	"context"
	"time"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const ongoingTasksTable = "mnt_ongoing_tasks"

const ongoingUpsertSQL = `
INSERT INTO mnt_ongoing_tasks (serial, name, start_time, status, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (serial, name, start_time) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
`

const ongoingDeleteSQL = `DELETE FROM mnt_ongoing_tasks WHERE serial = $1 AND name = $2 AND start_time = $3`

// PromoteTask applies spec.md §4.K steps 1 and 2: an ongoing task (end
// time null) is upserted into the ongoing-tasks staging table; a
// completed task is upserted into the canonical tasks table and, in the
// same transaction, removed from the ongoing-tasks table so a completed
// task never shadows itself as ongoing.
func (w *Writer) PromoteTask(ctx context.Context, database string, t model.Task) error {
	pool, err := w.poolFor(database)
	if err != nil {
		return err
	}
	lock := w.locks.lockFor(database, ongoingTasksTable)
	lock.Lock()
	defer lock.Unlock()

	tx, err := pool.BeginTxx(ctx, nil)
	if err != nil {
		return ferrors.New(ferrors.KindTransient, "store.PromoteTask", err)
	}

	if t.Ongoing() {
		if _, err := tx.ExecContext(ctx, ongoingUpsertSQL, t.Serial, t.Name, t.StartTime, t.Status); err != nil {
			_ = tx.Rollback()
			return classifyPGError(err)
		}
	} else {
		row, err := toTaskRow(t)
		if err != nil {
			_ = tx.Rollback()
			return ferrors.New(ferrors.KindMalformed, "store.PromoteTask", err)
		}
		if _, err := tx.NamedExecContext(ctx, taskUpsertSQL, row); err != nil {
			_ = tx.Rollback()
			return classifyPGError(err)
		}
		if _, err := tx.ExecContext(ctx, ongoingDeleteSQL, t.Serial, t.Name, t.StartTime); err != nil {
			_ = tx.Rollback()
			return classifyPGError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ferrors.New(ferrors.KindTransient, "store.PromoteTask", err)
	}
	return nil
}

// SweepOngoingTasks implements spec.md §4.K step 3: it removes ongoing
// rows whose serial is not in knownSerials or whose age exceeds maxAge,
// on the assumption a completion signal was missed. Returns the count of
// rows removed.
func (w *Writer) SweepOngoingTasks(ctx context.Context, database string, knownSerials map[string]bool, maxAge time.Duration) (int, error) {
	pool, err := w.poolFor(database)
	if err != nil {
		return 0, err
	}
	lock := w.locks.lockFor(database, ongoingTasksTable)
	lock.Lock()
	defer lock.Unlock()

	rows, err := pool.QueryContext(ctx, "SELECT serial, name, start_time, updated_at FROM mnt_ongoing_tasks")
	if err != nil {
		return 0, classifyPGError(err)
	}
	type staleKey struct {
		serial    string
		name      string
		startTime int64
	}
	var stale []staleKey
	cutoff := time.Now().Add(-maxAge)
	for rows.Next() {
		var k staleKey
		var updatedAt time.Time
		if err := rows.Scan(&k.serial, &k.name, &k.startTime, &updatedAt); err != nil {
			_ = rows.Close()
			return 0, classifyPGError(err)
		}
		if !knownSerials[k.serial] || updatedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, classifyPGError(err)
	}
	_ = rows.Close()

	removed := 0
	for _, k := range stale {
		if _, err := pool.ExecContext(ctx, ongoingDeleteSQL, k.serial, k.name, k.startTime); err != nil {
			return removed, classifyPGError(err)
		}
		removed++
	}
	return removed, nil
}
