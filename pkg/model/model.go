// Package model defines the five normalized record kinds the ingestion
// core moves through fetch, webhook, normalize, change-detect, write and
// notify stages. Every adapter, regardless of vendor wire format, produces
// these types; nothing downstream of the adapters ever sees vendor-native
// shapes again.
package model

import "fmt"

// Vendor identifies which adapter produced a record. Kept on every record
// for traceability even after normalization (spec.md §4.G).
type Vendor string

// RobotOperationalState enumerates the states a RobotState.State can take.
type RobotOperationalState string

const (
	StateOnline      RobotOperationalState = "online"
	StateOffline     RobotOperationalState = "offline"
	StateWorking     RobotOperationalState = "working"
	StateIdle        RobotOperationalState = "idle"
	StateCharging    RobotOperationalState = "charging"
	StateError       RobotOperationalState = "error"
	StateMaintenance RobotOperationalState = "maintenance"
)

// EventLevel enumerates normalized event severities.
type EventLevel string

const (
	LevelFatal   EventLevel = "fatal"
	LevelError   EventLevel = "error"
	LevelWarning EventLevel = "warning"
	LevelEvent   EventLevel = "event"
	LevelInfo    EventLevel = "info"
)

// TaskStatus enumerates normalized task lifecycle states.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskAbnormal   TaskStatus = "abnormal"
	TaskFailed     TaskStatus = "failed"
)

// Position is an optional robot pose.
type Position struct {
	X   float64
	Y   float64
	Yaw float64
}

// RobotState is the current snapshot of one robot, keyed by Serial.
type RobotState struct {
	Serial    string
	Vendor    Vendor
	State     RobotOperationalState
	Battery   int
	Position  *Position
	MapID     string
	Timestamp int64
}

// PrimaryKey returns the RobotState table's primary key: the serial.
func (r RobotState) PrimaryKey() string { return r.Serial }

// Subtask is an embedded, verbatim-retained per-subtask structure.
type Subtask map[string]any

// Task is a cleaning/service job. Primary key: (Serial, Name, StartTime).
type Task struct {
	Serial         string
	Vendor         Vendor
	TaskID         string
	Name           string
	Mode           string
	PlannedAreaM2  float64
	ActualAreaM2   float64
	DurationSec    int64
	WaterMl        float64
	EnergyWh       float64
	StartTime      int64
	EndTime        *int64 // nil while ongoing
	Status         TaskStatus
	MapID          string
	Subtasks       []Subtask
}

// PrimaryKey returns the composite Task primary key as a stable string.
func (t Task) PrimaryKey() string {
	return fmt.Sprintf("%s|%s|%d", t.Serial, t.Name, t.StartTime)
}

// Ongoing reports whether the task has not yet reported an end time.
func (t Task) Ongoing() bool { return t.EndTime == nil }

// ChargingSession is one charge cycle. Primary key: (Serial, Start, End).
type ChargingSession struct {
	Serial        string
	Vendor        Vendor
	StartTime     int64
	EndTime       int64
	InitialBattery int
	FinalBattery   int
	DurationSec    int64
	PowerGainPct   int
}

// PrimaryKey returns the composite ChargingSession primary key.
func (c ChargingSession) PrimaryKey() string {
	return fmt.Sprintf("%s|%d|%d", c.Serial, c.StartTime, c.EndTime)
}

// Event is a discrete robot event. Primary key: (Serial, EventID).
type Event struct {
	Serial  string
	Vendor  Vendor
	EventID string
	Level   EventLevel
	Type    string
	Detail  string
	Time    int64
}

// PrimaryKey returns the composite Event primary key.
func (e Event) PrimaryKey() string {
	return fmt.Sprintf("%s|%s", e.Serial, e.EventID)
}

// Location describes a building/site. Primary key: BuildingID.
type Location struct {
	BuildingID string
	Vendor     Vendor
	Country    string
	State      string
	City       string
	Building   string
	Lat        float64
	Lng        float64
}

// PrimaryKey returns the Location primary key.
func (l Location) PrimaryKey() string { return l.BuildingID }

// Kind names one of the five normalized record kinds, used by the webhook
// ingress' type-mapping step and the change detector's table routing.
type Kind string

const (
	KindRobotState Kind = "robot_state"
	KindTask       Kind = "task"
	KindCharging   Kind = "charging_session"
	KindEvent      Kind = "event"
	KindLocation   Kind = "location"
)

// Table returns the durable-store table name for a kind.
func (k Kind) Table() string {
	switch k {
	case KindRobotState:
		return "robot_state"
	case KindTask:
		return "tasks"
	case KindCharging:
		return "charging_sessions"
	case KindEvent:
		return "events"
	case KindLocation:
		return "locations"
	default:
		return ""
	}
}
