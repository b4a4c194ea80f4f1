package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const eventUpsertSQL = `
INSERT INTO events (serial, vendor, event_id, level, type, detail, time)
VALUES (:serial, :vendor, :event_id, :level, :type, :detail, :time)
ON CONFLICT (serial, event_id) DO UPDATE SET
  vendor = EXCLUDED.vendor,
  level = EXCLUDED.level,
  type = EXCLUDED.type,
  detail = EXCLUDED.detail,
  time = EXCLUDED.time
`

type eventRow struct {
	Serial  string `db:"serial"`
	Vendor  string `db:"vendor"`
	EventID string `db:"event_id"`
	Level   string `db:"level"`
	Type    string `db:"type"`
	Detail  string `db:"detail"`
	Time    int64  `db:"time"`
}

func toEventRow(e model.Event) eventRow {
	return eventRow{
		Serial: e.Serial, Vendor: string(e.Vendor), EventID: e.EventID,
		Level: string(e.Level), Type: e.Type, Detail: e.Detail, Time: e.Time,
	}
}

func fromEventRow(row eventRow) model.Event {
	return model.Event{
		Serial: row.Serial, Vendor: model.Vendor(row.Vendor), EventID: row.EventID,
		Level: model.EventLevel(row.Level), Type: row.Type, Detail: row.Detail, Time: row.Time,
	}
}

// UpsertEvents idempotently applies a batch of Event records to one
// tenant database.
func (w *Writer) UpsertEvents(ctx context.Context, database string, events []model.Event) (UpsertResult, error) {
	return upsertBatch(ctx, w, database, model.KindEvent.Table(), events, func(tx *sqlx.Tx, chunk []model.Event) error {
		for _, e := range chunk {
			if _, err := tx.NamedExecContext(ctx, eventUpsertSQL, toEventRow(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetEvent implements changedetect.Reader.
func (w *Writer) GetEvent(ctx context.Context, database, primaryKey string) (model.Event, bool, error) {
	serial, eventID, ok := splitEventKey(primaryKey)
	if !ok {
		return model.Event{}, false, nil
	}
	pool, err := w.poolFor(database)
	if err != nil {
		return model.Event{}, false, err
	}
	var row eventRow
	err = pool.GetContext(ctx, &row,
		"SELECT serial, vendor, event_id, level, type, detail, time FROM events WHERE serial = $1 AND event_id = $2",
		serial, eventID)
	if err != nil {
		if isNoRows(err) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, classifyPGError(err)
	}
	return fromEventRow(row), true, nil
}
