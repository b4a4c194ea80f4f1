package changedetect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

type fakeReader struct {
	states map[string]model.RobotState
	tasks  map[string]model.Task
	events map[string]model.Event
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		states: make(map[string]model.RobotState),
		tasks:  make(map[string]model.Task),
		events: make(map[string]model.Event),
	}
}

func (f *fakeReader) GetRobotState(ctx context.Context, database, serial string) (model.RobotState, bool, error) {
	s, ok := f.states[serial]
	return s, ok, nil
}
func (f *fakeReader) GetTask(ctx context.Context, database, key string) (model.Task, bool, error) {
	t, ok := f.tasks[key]
	return t, ok, nil
}
func (f *fakeReader) GetChargingSession(ctx context.Context, database, key string) (model.ChargingSession, bool, error) {
	return model.ChargingSession{}, false, nil
}
func (f *fakeReader) GetEvent(ctx context.Context, database, key string) (model.Event, bool, error) {
	e, ok := f.events[key]
	return e, ok, nil
}
func (f *fakeReader) GetLocation(ctx context.Context, database, buildingID string) (model.Location, bool, error) {
	return model.Location{}, false, nil
}

func TestDetector_RobotState_CreatedOnFirstObservation(t *testing.T) {
	r := newFakeReader()
	d := New(r)
	trans, _, err := d.RobotState(context.Background(), "db1", model.RobotState{Serial: "R1", Battery: 50})
	require.NoError(t, err)
	assert.Equal(t, Created, trans.Kind)
}

func TestDetector_RobotState_NoOpWhenUnchanged(t *testing.T) {
	r := newFakeReader()
	r.states["R1"] = model.RobotState{Serial: "R1", Battery: 50, State: model.StateOnline}
	d := New(r)
	trans, triggers, err := d.RobotState(context.Background(), "db1", model.RobotState{Serial: "R1", Battery: 50, State: model.StateOnline})
	require.NoError(t, err)
	assert.Equal(t, NoOp, trans.Kind)
	assert.Empty(t, triggers)
}

func TestDetector_RobotState_BatteryCriticalTrigger(t *testing.T) {
	r := newFakeReader()
	r.states["R1"] = model.RobotState{Serial: "R1", Battery: 50}
	d := New(r)
	_, triggers, err := d.RobotState(context.Background(), "db1", model.RobotState{Serial: "R1", Battery: 5})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerBatteryCritical, triggers[0].Type)
}

func TestDetector_RobotState_OfflineTrigger(t *testing.T) {
	r := newFakeReader()
	r.states["R1"] = model.RobotState{Serial: "R1", State: model.StateOnline, Battery: 50}
	d := New(r)
	_, triggers, err := d.RobotState(context.Background(), "db1", model.RobotState{Serial: "R1", State: model.StateOffline, Battery: 50})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerRobotOffline, triggers[0].Type)
}

func TestDetector_Task_CompletedTrigger(t *testing.T) {
	task := model.Task{Serial: "R1", Name: "clean", StartTime: 100, Status: model.TaskInProgress}
	r := newFakeReader()
	r.tasks[task.PrimaryKey()] = task
	d := New(r)

	end := int64(200)
	next := task
	next.Status = model.TaskCompleted
	next.EndTime = &end

	trans, triggers, err := d.Task(context.Background(), "db1", next)
	require.NoError(t, err)
	assert.Equal(t, Changed, trans.Kind)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerTaskCompleted, triggers[0].Type)
}

func TestDetector_Event_IncidentTriggerOnNewFatalEvent(t *testing.T) {
	r := newFakeReader()
	d := New(r)
	trans, triggers, err := d.Event(context.Background(), "db1", model.Event{Serial: "R1", EventID: "e1", Level: model.LevelFatal})
	require.NoError(t, err)
	assert.Equal(t, Created, trans.Kind)
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerIncident, triggers[0].Type)
}

func TestSubtasksEqual_IgnoresKeyOrderAndNulls(t *testing.T) {
	a := []model.Subtask{{"name": "room1", "area": 10.0, "extra": nil}}
	b := []model.Subtask{{"area": 10.0, "name": "room1"}}
	assert.True(t, subtasksEqual(a, b))
}

func TestSubtasksEqual_DetectsRealDifference(t *testing.T) {
	a := []model.Subtask{{"name": "room1", "area": 10.0}}
	b := []model.Subtask{{"name": "room1", "area": 20.0}}
	assert.False(t, subtasksEqual(a, b))
}
