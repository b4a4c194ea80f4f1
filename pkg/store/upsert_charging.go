package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const chargingUpsertSQL = `
INSERT INTO charging_sessions (serial, vendor, start_time, end_time, initial_battery, final_battery, duration_sec, power_gain_pct)
VALUES (:serial, :vendor, :start_time, :end_time, :initial_battery, :final_battery, :duration_sec, :power_gain_pct)
ON CONFLICT (serial, start_time, end_time) DO UPDATE SET
  vendor = EXCLUDED.vendor,
  initial_battery = EXCLUDED.initial_battery,
  final_battery = EXCLUDED.final_battery,
  duration_sec = EXCLUDED.duration_sec,
  power_gain_pct = EXCLUDED.power_gain_pct
`

type chargingRow struct {
	Serial         string `db:"serial"`
	Vendor         string `db:"vendor"`
	StartTime      int64  `db:"start_time"`
	EndTime        int64  `db:"end_time"`
	InitialBattery int    `db:"initial_battery"`
	FinalBattery   int    `db:"final_battery"`
	DurationSec    int64  `db:"duration_sec"`
	PowerGainPct   int    `db:"power_gain_pct"`
}

func toChargingRow(c model.ChargingSession) chargingRow {
	return chargingRow{
		Serial: c.Serial, Vendor: string(c.Vendor), StartTime: c.StartTime, EndTime: c.EndTime,
		InitialBattery: c.InitialBattery, FinalBattery: c.FinalBattery,
		DurationSec: c.DurationSec, PowerGainPct: c.PowerGainPct,
	}
}

func fromChargingRow(row chargingRow) model.ChargingSession {
	return model.ChargingSession{
		Serial: row.Serial, Vendor: model.Vendor(row.Vendor), StartTime: row.StartTime, EndTime: row.EndTime,
		InitialBattery: row.InitialBattery, FinalBattery: row.FinalBattery,
		DurationSec: row.DurationSec, PowerGainPct: row.PowerGainPct,
	}
}

// UpsertChargingSessions idempotently applies a batch of ChargingSession
// records to one tenant database.
func (w *Writer) UpsertChargingSessions(ctx context.Context, database string, sessions []model.ChargingSession) (UpsertResult, error) {
	return upsertBatch(ctx, w, database, model.KindCharging.Table(), sessions, func(tx *sqlx.Tx, chunk []model.ChargingSession) error {
		for _, c := range chunk {
			if _, err := tx.NamedExecContext(ctx, chargingUpsertSQL, toChargingRow(c)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChargingSession implements changedetect.Reader.
func (w *Writer) GetChargingSession(ctx context.Context, database, primaryKey string) (model.ChargingSession, bool, error) {
	serial, start, end, ok := splitChargingKey(primaryKey)
	if !ok {
		return model.ChargingSession{}, false, nil
	}
	pool, err := w.poolFor(database)
	if err != nil {
		return model.ChargingSession{}, false, err
	}
	var row chargingRow
	err = pool.GetContext(ctx, &row,
		`SELECT serial, vendor, start_time, end_time, initial_battery, final_battery, duration_sec, power_gain_pct
		 FROM charging_sessions WHERE serial = $1 AND start_time = $2 AND end_time = $3`,
		serial, start, end)
	if err != nil {
		if isNoRows(err) {
			return model.ChargingSession{}, false, nil
		}
		return model.ChargingSession{}, false, classifyPGError(err)
	}
	return fromChargingRow(row), true, nil
}
