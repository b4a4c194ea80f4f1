package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/internal/config"
	"github.com/cleanfleet/telemetry-core/internal/logging"
	"github.com/cleanfleet/telemetry-core/pkg/catalog"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
	"github.com/cleanfleet/telemetry-core/pkg/vendor"
)

// fakeAdapter is a minimal vendor.Adapter double; it never hits a real
// wire format, only the fixed fixture below.
type fakeAdapter struct {
	name     string
	serials  []string
	state    model.RobotState
	tasks    []model.Task
	charging []model.ChargingSession
	events   []model.Event
	locs     []model.Location
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ListRobots(ctx context.Context, cred catalog.Credentials) ([]string, error) {
	return f.serials, nil
}

func (f *fakeAdapter) FetchState(ctx context.Context, cred catalog.Credentials, serial string) (model.RobotState, error) {
	s := f.state
	s.Serial = serial
	return s, nil
}

// FetchTasks, FetchCharging and FetchEvents are tenant-wide in the real
// interface: the fixture already carries each record's own Serial, the
// way a vendor response carries its own "sn"/"robotSn" field.
func (f *fakeAdapter) FetchTasks(ctx context.Context, cred catalog.Credentials, windowStart, windowEnd time.Time) ([]model.Task, error) {
	return f.tasks, nil
}

func (f *fakeAdapter) FetchCharging(ctx context.Context, cred catalog.Credentials, windowStart, windowEnd time.Time) ([]model.ChargingSession, error) {
	return f.charging, nil
}

func (f *fakeAdapter) FetchEvents(ctx context.Context, cred catalog.Credentials, windowStart, windowEnd time.Time) ([]model.Event, error) {
	return f.events, nil
}

func (f *fakeAdapter) FetchLocations(ctx context.Context, cred catalog.Credentials) ([]model.Location, error) {
	return f.locs, nil
}

var _ vendor.Adapter = (*fakeAdapter)(nil)

// stubDispatcher records every call it receives, in order, for assertion.
type stubDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubDispatcher) record(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, kind)
}

func (s *stubDispatcher) RobotState(ctx context.Context, r model.RobotState) error {
	s.record("state:" + r.Serial)
	return nil
}

func (s *stubDispatcher) Task(ctx context.Context, t model.Task) error {
	s.record("task:" + t.Serial)
	return nil
}

func (s *stubDispatcher) ChargingSession(ctx context.Context, c model.ChargingSession) error {
	s.record("charging:" + c.Serial)
	return nil
}

func (s *stubDispatcher) Event(ctx context.Context, e model.Event) error {
	s.record("event:" + e.Serial)
	return nil
}

func (s *stubDispatcher) Location(ctx context.Context, database string, l model.Location) error {
	s.record("location:" + database + ":" + l.BuildingID)
	return nil
}

func (s *stubDispatcher) SweepTasks(ctx context.Context, database string, knownSerials map[string]bool) (int, error) {
	s.record("sweep:" + database)
	return 0, nil
}

func (s *stubDispatcher) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func newTestPoller(t *testing.T, adapter *fakeAdapter, dispatcher Dispatcher, cfg config.PollerConfig) *Poller {
	t.Helper()

	cat := catalog.FromDocument(catalog.Document{
		Tenants: map[string]map[string]catalog.Credentials{
			"acme": {adapter.name: {Enabled: true}},
		},
	})
	router, err := routing.FromDocument(routing.Document{
		Databases: map[string][]string{"db-acme": adapter.serials},
	})
	require.NoError(t, err)

	reg := vendor.NewRegistry(1000, 1000)
	reg.Register(adapter)

	p, err := New(cat, router, reg, dispatcher, logging.NewFromEnv("poller-test"), cfg, "")
	require.NoError(t, err)
	return p
}

func TestPoller_RunOnce_DispatchesEveryKindInOrder(t *testing.T) {
	adapter := &fakeAdapter{
		name:     "pudu",
		serials:  []string{"sn-1", "sn-2"},
		state:    model.RobotState{State: model.StateOnline},
		tasks:    []model.Task{{Serial: "sn-1", Name: "clean", StartTime: 1}},
		charging: []model.ChargingSession{{Serial: "sn-1", StartTime: 1, EndTime: 2}},
		events:   []model.Event{{Serial: "sn-1", EventID: "e1", Level: model.LevelError}},
		locs:     []model.Location{{BuildingID: "hq"}},
	}
	dispatcher := &stubDispatcher{}
	p := newTestPoller(t, adapter, dispatcher, config.PollerConfig{Interval: time.Minute, PoolSize: 2, BackpressureMultiple: 4})

	p.runOnce(context.Background())

	calls := dispatcher.kinds()
	require.NotEmpty(t, calls)

	firstIndexOf := func(prefix string) int {
		for i, c := range calls {
			if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
				return i
			}
		}
		return -1
	}

	stateIdx := firstIndexOf("state:")
	taskIdx := firstIndexOf("task:")
	chargingIdx := firstIndexOf("charging:")
	eventIdx := firstIndexOf("event:")
	locationIdx := firstIndexOf("location:")
	sweepIdx := firstIndexOf("sweep:")

	assert.True(t, stateIdx < taskIdx)
	assert.True(t, taskIdx < chargingIdx)
	assert.True(t, chargingIdx < eventIdx)
	assert.True(t, eventIdx < locationIdx)
	assert.True(t, locationIdx < sweepIdx)

	assert.Contains(t, calls, "location:db-acme:hq")
	assert.Contains(t, calls, "sweep:db-acme")
}

func TestPoller_RunOnce_SkipsTickWhenSaturated(t *testing.T) {
	adapter := &fakeAdapter{name: "pudu", serials: []string{"sn-1"}}
	dispatcher := &stubDispatcher{}
	p := newTestPoller(t, adapter, dispatcher, config.PollerConfig{Interval: time.Minute, PoolSize: 2, BackpressureMultiple: 1})

	_, err := p.counter.Add(context.Background(), 10)
	require.NoError(t, err)

	p.runOnce(context.Background())

	assert.Empty(t, dispatcher.kinds())
}

func TestPoller_RunOnce_CancelledContextStartsNoNewFetchGroups(t *testing.T) {
	adapter := &fakeAdapter{name: "pudu", serials: []string{"sn-1"}}
	dispatcher := &stubDispatcher{}
	p := newTestPoller(t, adapter, dispatcher, config.PollerConfig{Interval: time.Minute, PoolSize: 2, BackpressureMultiple: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.runOnce(ctx)

	assert.Empty(t, dispatcher.kinds())
}

func TestRecommendedPoolSize_NeverExceedsConfigured(t *testing.T) {
	size := recommendedPoolSize(3)
	assert.LessOrEqual(t, size, 3)
	assert.Greater(t, size, 0)
}

func TestRecommendedPoolSize_DefaultsWhenUnconfigured(t *testing.T) {
	size := recommendedPoolSize(0)
	assert.Greater(t, size, 0)
}

func TestPoller_Window_AbsorbsOneMissedInterval(t *testing.T) {
	p := &Poller{interval: time.Minute}
	runStart := time.Now()
	start, end := p.window(runStart)
	assert.Equal(t, runStart, end)
	assert.Equal(t, runStart.Add(-2*time.Minute), start)
}
