package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

const incidentReportTable = "mnt_robot_event_reports"

// RecordIncident writes the support-ticket summary row and its first
// timeline entry for an `incident` trigger (spec.md §6: the external
// support workflow tables). Both inserts happen in one transaction so a
// report never exists without at least one timeline entry.
func (w *Writer) RecordIncident(ctx context.Context, database, serial, title, detail string, occurredAt int64) (reportID string, err error) {
	pool, err := w.poolFor(database)
	if err != nil {
		return "", err
	}
	lock := w.locks.lockFor(database, incidentReportTable)
	lock.Lock()
	defer lock.Unlock()

	reportID = uuid.NewString()

	tx, err := pool.BeginTxx(ctx, nil)
	if err != nil {
		return "", ferrors.New(ferrors.KindTransient, "store.RecordIncident", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mnt_robot_event_reports (id, serial, title, detail, occurred_at, created_at) VALUES ($1, $2, $3, $4, $5, now())`,
		reportID, serial, title, detail, occurredAt); err != nil {
		_ = tx.Rollback()
		return "", classifyPGError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mnt_robot_report_timeline (report_id, serial, detail, occurred_at) VALUES ($1, $2, $3, $4)`,
		reportID, serial, detail, occurredAt); err != nil {
		_ = tx.Rollback()
		return "", classifyPGError(err)
	}

	if err := tx.Commit(); err != nil {
		return "", ferrors.New(ferrors.KindTransient, "store.RecordIncident", err)
	}
	return reportID, nil
}
