// Package changedetect implements the Change Detector (spec.md §4.H): it
// carries no in-memory state across invocations, reading the previously
// persisted record through a Reader (implemented by pkg/store) and
// classifying each inbound record as CREATED, CHANGED or a no-op, while
// separately emitting the named Trigger events §4.H defines.
package changedetect

import (
	"context"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

// Reader is the Persistence Writer's read interface (spec.md §4.H: "reads
// current stored record(s) by primary key from the Persistence Writer's
// read interface"). pkg/store's Writer implements this.
type Reader interface {
	GetRobotState(ctx context.Context, database, serial string) (model.RobotState, bool, error)
	GetTask(ctx context.Context, database, primaryKey string) (model.Task, bool, error)
	GetChargingSession(ctx context.Context, database, primaryKey string) (model.ChargingSession, bool, error)
	GetEvent(ctx context.Context, database, primaryKey string) (model.Event, bool, error)
	GetLocation(ctx context.Context, database, buildingID string) (model.Location, bool, error)
}

// TransitionKind classifies an inbound record against the stored one.
type TransitionKind string

const (
	Created TransitionKind = "CREATED"
	Changed TransitionKind = "CHANGED"
	NoOp    TransitionKind = "no_op"
)

// FieldChange names one field that differed between the stored and
// inbound record.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

// Transition is the outcome of comparing one inbound record to storage.
type Transition struct {
	Kind          TransitionKind
	ChangedFields []FieldChange
}

// TriggerType names one of the notification-worthy transitions spec.md
// §4.H defines. Nothing outside this package decides these; the
// Notification Engine only reacts to Trigger values it receives.
type TriggerType string

const (
	TriggerBatteryCritical  TriggerType = "battery_critical"
	TriggerBatteryLow       TriggerType = "battery_low"
	TriggerBatteryRecovered TriggerType = "battery_recovered"
	TriggerRobotOffline     TriggerType = "robot_offline"
	TriggerRobotOnline      TriggerType = "robot_online"
	TriggerIncident         TriggerType = "incident"
	TriggerTaskCompleted    TriggerType = "task_completed"
	TriggerTaskFailed       TriggerType = "task_failed"
)

// Trigger is one notification-worthy event emitted alongside a Transition.
type Trigger struct {
	Type   TriggerType
	Serial string
}

// Detector implements the decision procedure of spec.md §4.H. It is
// stateless; every call takes the database id and looks the prior record
// up through the Reader given to New.
type Detector struct {
	reader Reader
}

func New(reader Reader) *Detector {
	return &Detector{reader: reader}
}

// RobotState diffs an inbound RobotState against storage, returning the
// transition and any battery/online-offline triggers it crosses.
func (d *Detector) RobotState(ctx context.Context, database string, next model.RobotState) (Transition, []Trigger, error) {
	prev, found, err := d.reader.GetRobotState(ctx, database, next.Serial)
	if err != nil {
		return Transition{}, nil, err
	}
	if !found {
		return Transition{Kind: Created}, batteryTriggers(0, next.Battery, next.Serial, true), nil
	}

	var changes []FieldChange
	if !stringEqual(string(prev.State), string(next.State)) {
		changes = append(changes, FieldChange{"state", prev.State, next.State})
	}
	if prev.Battery != next.Battery {
		changes = append(changes, FieldChange{"battery", prev.Battery, next.Battery})
	}
	if prev.MapID != next.MapID {
		changes = append(changes, FieldChange{"map_id", prev.MapID, next.MapID})
	}
	if !intEqual(prev.Timestamp, next.Timestamp) {
		changes = append(changes, FieldChange{"timestamp", prev.Timestamp, next.Timestamp})
	}
	if !positionEqual(prev.Position, next.Position) {
		changes = append(changes, FieldChange{"position", prev.Position, next.Position})
	}

	var triggers []Trigger
	triggers = append(triggers, batteryTriggers(prev.Battery, next.Battery, next.Serial, false)...)
	if prev.State != model.StateOffline && next.State == model.StateOffline {
		triggers = append(triggers, Trigger{Type: TriggerRobotOffline, Serial: next.Serial})
	}
	if prev.State == model.StateOffline && next.State == model.StateOnline {
		triggers = append(triggers, Trigger{Type: TriggerRobotOnline, Serial: next.Serial})
	}

	if len(changes) == 0 {
		return Transition{Kind: NoOp}, triggers, nil
	}
	return Transition{Kind: Changed, ChangedFields: changes}, triggers, nil
}

// batteryTriggers computes the battery-crossing triggers of spec.md §4.H.
// On first observation (isNew), prevBattery is treated as "above 20": a
// first reading at or below 10 fires critical, one in (10,20] fires low,
// and recovered never fires purely from having no history.
func batteryTriggers(prevBattery, nextBattery int, serial string, isNew bool) []Trigger {
	if isNew {
		if nextBattery <= 10 {
			return []Trigger{{Type: TriggerBatteryCritical, Serial: serial}}
		}
		if nextBattery <= 20 {
			return []Trigger{{Type: TriggerBatteryLow, Serial: serial}}
		}
		return nil
	}
	var triggers []Trigger
	switch {
	case nextBattery <= 10 && prevBattery > 10:
		triggers = append(triggers, Trigger{Type: TriggerBatteryCritical, Serial: serial})
	case nextBattery > 10 && nextBattery <= 20 && prevBattery > 20:
		triggers = append(triggers, Trigger{Type: TriggerBatteryLow, Serial: serial})
	case nextBattery > 20 && prevBattery <= 20:
		triggers = append(triggers, Trigger{Type: TriggerBatteryRecovered, Serial: serial})
	}
	return triggers
}

func positionEqual(a, b *model.Position) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return numericEqual(a.X, b.X) && numericEqual(a.Y, b.Y) && numericEqual(a.Yaw, b.Yaw)
}

// Task diffs an inbound Task against storage, returning task_completed /
// task_failed triggers on the relevant status transitions.
func (d *Detector) Task(ctx context.Context, database string, next model.Task) (Transition, []Trigger, error) {
	prev, found, err := d.reader.GetTask(ctx, database, next.PrimaryKey())
	if err != nil {
		return Transition{}, nil, err
	}
	if !found {
		return Transition{Kind: Created}, taskStatusTriggers("", next.Status, next.Serial), nil
	}

	var changes []FieldChange
	if !stringEqual(string(prev.Status), string(next.Status)) {
		changes = append(changes, FieldChange{"status", prev.Status, next.Status})
	}
	if !numericEqual(prev.ActualAreaM2, next.ActualAreaM2) {
		changes = append(changes, FieldChange{"actual_area_m2", prev.ActualAreaM2, next.ActualAreaM2})
	}
	if !numericEqual(prev.WaterMl, next.WaterMl) {
		changes = append(changes, FieldChange{"water_ml", prev.WaterMl, next.WaterMl})
	}
	if !numericEqual(prev.EnergyWh, next.EnergyWh) {
		changes = append(changes, FieldChange{"energy_wh", prev.EnergyWh, next.EnergyWh})
	}
	if !intEqual(prev.DurationSec, next.DurationSec) {
		changes = append(changes, FieldChange{"duration_sec", prev.DurationSec, next.DurationSec})
	}
	if !optionalIntEqual(prev.EndTime, next.EndTime) {
		changes = append(changes, FieldChange{"end_time", prev.EndTime, next.EndTime})
	}
	if !subtasksEqual(prev.Subtasks, next.Subtasks) {
		changes = append(changes, FieldChange{"subtasks", prev.Subtasks, next.Subtasks})
	}

	triggers := taskStatusTriggers(prev.Status, next.Status, next.Serial)
	if len(changes) == 0 {
		return Transition{Kind: NoOp}, triggers, nil
	}
	return Transition{Kind: Changed, ChangedFields: changes}, triggers, nil
}

func taskStatusTriggers(prev, next model.TaskStatus, serial string) []Trigger {
	if prev == next {
		return nil
	}
	switch next {
	case model.TaskCompleted:
		return []Trigger{{Type: TriggerTaskCompleted, Serial: serial}}
	case model.TaskAbnormal, model.TaskFailed:
		return []Trigger{{Type: TriggerTaskFailed, Serial: serial}}
	default:
		return nil
	}
}

func subtasksEqual(a, b []model.Subtask) bool {
	return structuralEqual(subtasksToAny(a), subtasksToAny(b))
}

func subtasksToAny(s []model.Subtask) []any {
	out := make([]any, len(s))
	for i, sub := range s {
		out[i] = map[string]any(sub)
	}
	return out
}

// ChargingSession diffs an inbound session against storage. Charging
// sessions never trigger notifications on their own (spec.md §4.J).
func (d *Detector) ChargingSession(ctx context.Context, database string, next model.ChargingSession) (Transition, error) {
	prev, found, err := d.reader.GetChargingSession(ctx, database, next.PrimaryKey())
	if err != nil {
		return Transition{}, err
	}
	if !found {
		return Transition{Kind: Created}, nil
	}

	var changes []FieldChange
	if prev.InitialBattery != next.InitialBattery {
		changes = append(changes, FieldChange{"initial_battery", prev.InitialBattery, next.InitialBattery})
	}
	if prev.FinalBattery != next.FinalBattery {
		changes = append(changes, FieldChange{"final_battery", prev.FinalBattery, next.FinalBattery})
	}
	if !intEqual(prev.DurationSec, next.DurationSec) {
		changes = append(changes, FieldChange{"duration_sec", prev.DurationSec, next.DurationSec})
	}
	if prev.PowerGainPct != next.PowerGainPct {
		changes = append(changes, FieldChange{"power_gain_pct", prev.PowerGainPct, next.PowerGainPct})
	}
	if len(changes) == 0 {
		return Transition{Kind: NoOp}, nil
	}
	return Transition{Kind: Changed, ChangedFields: changes}, nil
}

// Event diffs an inbound Event against storage (events are rarely
// updated in place, but the procedure is the same), emitting an
// `incident` trigger for new fatal/error-level events.
func (d *Detector) Event(ctx context.Context, database string, next model.Event) (Transition, []Trigger, error) {
	prev, found, err := d.reader.GetEvent(ctx, database, next.PrimaryKey())
	if err != nil {
		return Transition{}, nil, err
	}
	if !found {
		var triggers []Trigger
		if next.Level == model.LevelFatal || next.Level == model.LevelError {
			triggers = append(triggers, Trigger{Type: TriggerIncident, Serial: next.Serial})
		}
		return Transition{Kind: Created}, triggers, nil
	}

	var changes []FieldChange
	if !stringEqual(prev.Detail, next.Detail) {
		changes = append(changes, FieldChange{"detail", prev.Detail, next.Detail})
	}
	if !stringEqual(string(prev.Level), string(next.Level)) {
		changes = append(changes, FieldChange{"level", prev.Level, next.Level})
	}
	if len(changes) == 0 {
		return Transition{Kind: NoOp}, nil, nil
	}
	return Transition{Kind: Changed, ChangedFields: changes}, nil, nil
}

// Location diffs an inbound Location against storage. Locations never
// trigger notifications.
func (d *Detector) Location(ctx context.Context, database string, next model.Location) (Transition, error) {
	prev, found, err := d.reader.GetLocation(ctx, database, next.BuildingID)
	if err != nil {
		return Transition{}, err
	}
	if !found {
		return Transition{Kind: Created}, nil
	}

	var changes []FieldChange
	if !stringEqual(prev.Country, next.Country) {
		changes = append(changes, FieldChange{"country", prev.Country, next.Country})
	}
	if !stringEqual(prev.State, next.State) {
		changes = append(changes, FieldChange{"state", prev.State, next.State})
	}
	if !stringEqual(prev.City, next.City) {
		changes = append(changes, FieldChange{"city", prev.City, next.City})
	}
	if !stringEqual(prev.Building, next.Building) {
		changes = append(changes, FieldChange{"building", prev.Building, next.Building})
	}
	if !numericEqual(prev.Lat, next.Lat) || !numericEqual(prev.Lng, next.Lng) {
		changes = append(changes, FieldChange{"coordinates", [2]float64{prev.Lat, prev.Lng}, [2]float64{next.Lat, next.Lng}})
	}
	if len(changes) == 0 {
		return Transition{Kind: NoOp}, nil
	}
	return Transition{Kind: Changed, ChangedFields: changes}, nil
}
