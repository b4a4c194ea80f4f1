package store

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const taskUpsertSQL = `
INSERT INTO tasks (serial, vendor, task_id, name, mode, planned_area_m2, actual_area_m2,
  duration_sec, water_ml, energy_wh, start_time, end_time, status, map_id, subtasks)
VALUES (:serial, :vendor, :task_id, :name, :mode, :planned_area_m2, :actual_area_m2,
  :duration_sec, :water_ml, :energy_wh, :start_time, :end_time, :status, :map_id, :subtasks)
ON CONFLICT (serial, name, start_time) DO UPDATE SET
  vendor = EXCLUDED.vendor,
  task_id = EXCLUDED.task_id,
  mode = EXCLUDED.mode,
  planned_area_m2 = EXCLUDED.planned_area_m2,
  actual_area_m2 = EXCLUDED.actual_area_m2,
  duration_sec = EXCLUDED.duration_sec,
  water_ml = EXCLUDED.water_ml,
  energy_wh = EXCLUDED.energy_wh,
  end_time = EXCLUDED.end_time,
  status = EXCLUDED.status,
  map_id = EXCLUDED.map_id,
  subtasks = EXCLUDED.subtasks
`

type taskRow struct {
	Serial        string  `db:"serial"`
	Vendor        string  `db:"vendor"`
	TaskID        string  `db:"task_id"`
	Name          string  `db:"name"`
	Mode          string  `db:"mode"`
	PlannedAreaM2 float64 `db:"planned_area_m2"`
	ActualAreaM2  float64 `db:"actual_area_m2"`
	DurationSec   int64   `db:"duration_sec"`
	WaterMl       float64 `db:"water_ml"`
	EnergyWh      float64 `db:"energy_wh"`
	StartTime     int64   `db:"start_time"`
	EndTime       *int64  `db:"end_time"`
	Status        string  `db:"status"`
	MapID         string  `db:"map_id"`
	Subtasks      []byte  `db:"subtasks"`
}

func toTaskRow(t model.Task) (taskRow, error) {
	subtasksJSON, err := json.Marshal(t.Subtasks)
	if err != nil {
		return taskRow{}, err
	}
	return taskRow{
		Serial:        t.Serial,
		Vendor:        string(t.Vendor),
		TaskID:        t.TaskID,
		Name:          t.Name,
		Mode:          t.Mode,
		PlannedAreaM2: t.PlannedAreaM2,
		ActualAreaM2:  t.ActualAreaM2,
		DurationSec:   t.DurationSec,
		WaterMl:       t.WaterMl,
		EnergyWh:      t.EnergyWh,
		StartTime:     t.StartTime,
		EndTime:       t.EndTime,
		Status:        string(t.Status),
		MapID:         t.MapID,
		Subtasks:      subtasksJSON,
	}, nil
}

func fromTaskRow(row taskRow) (model.Task, error) {
	var subtasks []model.Subtask
	if len(row.Subtasks) > 0 {
		if err := json.Unmarshal(row.Subtasks, &subtasks); err != nil {
			return model.Task{}, err
		}
	}
	return model.Task{
		Serial:        row.Serial,
		Vendor:        model.Vendor(row.Vendor),
		TaskID:        row.TaskID,
		Name:          row.Name,
		Mode:          row.Mode,
		PlannedAreaM2: row.PlannedAreaM2,
		ActualAreaM2:  row.ActualAreaM2,
		DurationSec:   row.DurationSec,
		WaterMl:       row.WaterMl,
		EnergyWh:      row.EnergyWh,
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		Status:        model.TaskStatus(row.Status),
		MapID:         row.MapID,
		Subtasks:      subtasks,
	}, nil
}

// UpsertTasks idempotently applies a batch of Task records to the
// canonical tasks table (distinct from the ongoing-tasks staging table
// that PromoteTask manages for pkg/tasks — spec.md §4.K).
func (w *Writer) UpsertTasks(ctx context.Context, database string, tasks []model.Task) (UpsertResult, error) {
	return upsertBatch(ctx, w, database, model.KindTask.Table(), tasks, func(tx *sqlx.Tx, chunk []model.Task) error {
		for _, t := range chunk {
			row, err := toTaskRow(t)
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, taskUpsertSQL, row); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTask implements changedetect.Reader. primaryKey is model.Task's
// PrimaryKey() string ("serial|name|start_time"); tasks is looked up by
// its three constituent columns rather than the composite string since
// the table itself is keyed on the three columns.
func (w *Writer) GetTask(ctx context.Context, database, primaryKey string) (model.Task, bool, error) {
	serial, name, startTime, ok := splitTaskKey(primaryKey)
	if !ok {
		return model.Task{}, false, nil
	}
	pool, err := w.poolFor(database)
	if err != nil {
		return model.Task{}, false, err
	}
	var row taskRow
	err = pool.GetContext(ctx, &row,
		`SELECT serial, vendor, task_id, name, mode, planned_area_m2, actual_area_m2,
		  duration_sec, water_ml, energy_wh, start_time, end_time, status, map_id, subtasks
		 FROM tasks WHERE serial = $1 AND name = $2 AND start_time = $3`,
		serial, name, startTime)
	if err != nil {
		if isNoRows(err) {
			return model.Task{}, false, nil
		}
		return model.Task{}, false, classifyPGError(err)
	}
	task, err := fromTaskRow(row)
	if err != nil {
		return model.Task{}, false, err
	}
	return task, true, nil
}
