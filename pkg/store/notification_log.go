package store

import (
	"context"
	"time"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

const notificationLogTable = "mnt_notification_log"

// LastNotified returns the timestamp of the most recent notification
// delivered for (serial, triggerType), used by the Notification Engine's
// suppression-window check (spec.md §4.J step 3). Suppression state lives
// here rather than in process memory so it stays correct across restarts
// and replicas (spec.md §5).
func (w *Writer) LastNotified(ctx context.Context, database, serial, triggerType string) (time.Time, bool, error) {
	pool, err := w.poolFor(database)
	if err != nil {
		return time.Time{}, false, err
	}
	var sentAt time.Time
	err = pool.GetContext(ctx, &sentAt,
		"SELECT sent_at FROM mnt_notification_log WHERE serial = $1 AND trigger_type = $2 ORDER BY sent_at DESC LIMIT 1",
		serial, triggerType)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, classifyPGError(err)
	}
	return sentAt, true, nil
}

// RecordNotification logs a successful delivery so future suppression
// checks see it.
func (w *Writer) RecordNotification(ctx context.Context, database, serial, triggerType string, at time.Time) error {
	pool, err := w.poolFor(database)
	if err != nil {
		return err
	}
	lock := w.locks.lockFor(database, notificationLogTable)
	lock.Lock()
	defer lock.Unlock()

	if _, err := pool.ExecContext(ctx,
		"INSERT INTO mnt_notification_log (serial, trigger_type, sent_at) VALUES ($1, $2, $3)",
		serial, triggerType, at); err != nil {
		return ferrors.New(ferrors.KindTransient, "store.RecordNotification", err)
	}
	return nil
}
