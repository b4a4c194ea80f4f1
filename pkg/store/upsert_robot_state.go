package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const robotStateUpsertSQL = `
INSERT INTO robot_state (serial, vendor, state, battery, pos_x, pos_y, pos_yaw, map_id, timestamp)
VALUES (:serial, :vendor, :state, :battery, :pos_x, :pos_y, :pos_yaw, :map_id, :timestamp)
ON CONFLICT (serial) DO UPDATE SET
  vendor = EXCLUDED.vendor,
  state = EXCLUDED.state,
  battery = EXCLUDED.battery,
  pos_x = EXCLUDED.pos_x,
  pos_y = EXCLUDED.pos_y,
  pos_yaw = EXCLUDED.pos_yaw,
  map_id = EXCLUDED.map_id,
  timestamp = EXCLUDED.timestamp
`

type robotStateRow struct {
	Serial    string   `db:"serial"`
	Vendor    string   `db:"vendor"`
	State     string   `db:"state"`
	Battery   int      `db:"battery"`
	PosX      *float64 `db:"pos_x"`
	PosY      *float64 `db:"pos_y"`
	PosYaw    *float64 `db:"pos_yaw"`
	MapID     string   `db:"map_id"`
	Timestamp int64    `db:"timestamp"`
}

func toRobotStateRow(s model.RobotState) robotStateRow {
	row := robotStateRow{
		Serial:    s.Serial,
		Vendor:    string(s.Vendor),
		State:     string(s.State),
		Battery:   s.Battery,
		MapID:     s.MapID,
		Timestamp: s.Timestamp,
	}
	if s.Position != nil {
		row.PosX, row.PosY, row.PosYaw = &s.Position.X, &s.Position.Y, &s.Position.Yaw
	}
	return row
}

func fromRobotStateRow(row robotStateRow) model.RobotState {
	s := model.RobotState{
		Serial:    row.Serial,
		Vendor:    model.Vendor(row.Vendor),
		State:     model.RobotOperationalState(row.State),
		Battery:   row.Battery,
		MapID:     row.MapID,
		Timestamp: row.Timestamp,
	}
	if row.PosX != nil {
		s.Position = &model.Position{X: *row.PosX, Y: *row.PosY, Yaw: *row.PosYaw}
	}
	return s
}

// UpsertRobotStates idempotently applies a batch of RobotState records to
// one tenant database.
func (w *Writer) UpsertRobotStates(ctx context.Context, database string, states []model.RobotState) (UpsertResult, error) {
	return upsertBatch(ctx, w, database, model.KindRobotState.Table(), states, func(tx *sqlx.Tx, chunk []model.RobotState) error {
		for _, s := range chunk {
			if _, err := tx.NamedExecContext(ctx, robotStateUpsertSQL, toRobotStateRow(s)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRobotState implements changedetect.Reader.
func (w *Writer) GetRobotState(ctx context.Context, database, serial string) (model.RobotState, bool, error) {
	pool, err := w.poolFor(database)
	if err != nil {
		return model.RobotState{}, false, err
	}
	var row robotStateRow
	err = pool.GetContext(ctx, &row, "SELECT serial, vendor, state, battery, pos_x, pos_y, pos_yaw, map_id, timestamp FROM robot_state WHERE serial = $1", serial)
	if err != nil {
		if isNoRows(err) {
			return model.RobotState{}, false, nil
		}
		return model.RobotState{}, false, classifyPGError(err)
	}
	return fromRobotStateRow(row), true, nil
}
