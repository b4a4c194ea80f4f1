// Package poller implements the Poller / Work Dispatcher (spec.md §4.E): a
// fixed-interval scheduler that, once per tick, enumerates every enabled
// (tenant, vendor) pair, fetches each pair's robots and their current
// state/tasks/charging/events/locations, and hands every record through
// pkg/pipeline in the same stage order the webhook ingress uses. Grounded
// on the teacher's internal/marble worker/ticker shapes for the run loop
// and on robfig/cron/v3 for the schedule itself, which the teacher's go.mod
// already carries but never wires into a runnable scheduler.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"

	"github.com/cleanfleet/telemetry-core/internal/config"
	"github.com/cleanfleet/telemetry-core/internal/logging"
	"github.com/cleanfleet/telemetry-core/internal/poller/backpressure"
	"github.com/cleanfleet/telemetry-core/pkg/catalog"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
	"github.com/cleanfleet/telemetry-core/pkg/vendor"
)

// Dispatcher is the subset of pkg/pipeline.Pipeline the Poller drives.
// *pipeline.Pipeline satisfies this; declared separately, mirroring
// internal/webhook.Dispatcher, so poller tests can substitute a stub
// instead of wiring a live database connection.
type Dispatcher interface {
	RobotState(ctx context.Context, s model.RobotState) error
	Task(ctx context.Context, t model.Task) error
	ChargingSession(ctx context.Context, c model.ChargingSession) error
	Event(ctx context.Context, e model.Event) error
	Location(ctx context.Context, database string, l model.Location) error
	SweepTasks(ctx context.Context, database string, knownSerials map[string]bool) (int, error)
}

// Poller runs the fixed-interval fetch loop.
type Poller struct {
	catalog  *catalog.Catalog
	router   *routing.Resolver
	registry *vendor.Registry
	dispatch Dispatcher
	log      *logging.Logger

	interval             time.Duration
	poolSize             int
	backpressureLimit    int
	counter              backpressure.Counter

	cronID  cron.EntryID
	cronRun *cron.Cron
	mu      sync.Mutex
}

// New constructs a Poller. poolSize is capped to the lesser of
// cfg.Poller.PoolSize and the machine's CPU count (spec.md §4.E step 1);
// cfg.Poller.PoolSize <= 0 is treated as 8, so the pool is then the lesser
// of 8 and the CPU count.
func New(cat *catalog.Catalog, router *routing.Resolver, registry *vendor.Registry, dispatch Dispatcher, log *logging.Logger, cfg config.PollerConfig, redisAddr string) (*Poller, error) {
	counter, err := backpressure.New(redisAddr, "fleet:poller:inflight")
	if err != nil {
		return nil, fmt.Errorf("poller: construct backpressure counter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	backpressureMultiple := cfg.BackpressureMultiple
	if backpressureMultiple <= 0 {
		backpressureMultiple = 4
	}

	poolSize := recommendedPoolSize(cfg.PoolSize)

	return &Poller{
		catalog:           cat,
		router:            router,
		registry:          registry,
		dispatch:          dispatch,
		log:               log,
		interval:          interval,
		poolSize:          poolSize,
		backpressureLimit: backpressureMultiple * poolSize,
		counter:           counter,
	}, nil
}

// recommendedPoolSize caps configured to the machine's logical CPU count,
// falling back to configured (or 8) if the CPU count can't be read.
func recommendedPoolSize(configured int) int {
	if configured <= 0 {
		configured = 8
	}
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return configured
	}
	if n < configured {
		return n
	}
	return configured
}

// Start schedules runOnce on the configured interval via robfig/cron/v3's
// "@every" spec and begins running it in the background. The context
// passed here governs every subsequent tick: once it is cancelled, no new
// tick starts and no new fetch group starts mid-tick, but fetches already
// in flight are allowed to finish (spec.md §5's cancellation semantics).
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cronRun = cron.New()
	id, err := p.cronRun.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		p.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("poller: schedule run: %w", err)
	}
	p.cronID = id
	p.cronRun.Start()
	return nil
}

// Stop halts the schedule and blocks until any tick already running
// finishes, or until ctx is done, whichever comes first.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	runner := p.cronRun
	p.mu.Unlock()
	if runner == nil {
		return
	}
	done := runner.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// runOnce is one scheduler tick: spec.md §4.E steps 1-4.
func (p *Poller) runOnce(ctx context.Context) {
	runStart := time.Now()
	log := p.log.WithContext(logging.WithRunID(ctx, runStart.UTC().Format(time.RFC3339Nano)))

	depth, err := p.counter.Value(ctx)
	if err == nil && depth > int64(p.backpressureLimit) {
		log.Warnf("poller: skipping tick, in-flight depth %d > backpressure limit %d", depth, p.backpressureLimit)
		return
	}

	pairs := p.catalog.Pairs()
	sem := make(chan struct{}, p.poolSize)
	var wg sync.WaitGroup

pairLoop:
	for _, pair := range pairs {
		if ctx.Err() != nil {
			break pairLoop
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break pairLoop
		}

		if _, err := p.counter.Add(ctx, 1); err != nil {
			log.WithError(err).Warn("poller: backpressure counter increment failed")
		}

		wg.Add(1)
		go func(pair catalog.Pair) {
			defer wg.Done()
			defer func() {
				<-sem
				if _, err := p.counter.Add(ctx, -1); err != nil {
					log.WithError(err).Warn("poller: backpressure counter decrement failed")
				}
			}()
			p.processPair(ctx, pair, runStart)
		}(pair)
	}
	wg.Wait()
}

// window computes the fetch window for a run (spec.md §4.E step 2):
// end is the run start, start absorbs one missed tick. fetchAll passes
// this window to FetchTasks, FetchCharging and FetchEvents as their
// query range. Overlap between consecutive runs is tolerated
// because change detection and upsert are both idempotent.
func (p *Poller) window(runStart time.Time) (start, end time.Time) {
	return runStart.Add(-2 * p.interval), runStart
}

// processPair fetches everything for one (tenant, vendor) pair and hands
// it through the Dispatcher in the strict state -> task -> charging ->
// event order spec.md §4.E step 3 requires.
func (p *Poller) processPair(ctx context.Context, pair catalog.Pair, runStart time.Time) {
	ctx = logging.WithTenant(logging.WithVendor(ctx, pair.Vendor), pair.Tenant)
	log := p.log.WithContext(ctx)

	windowStart, windowEnd := p.window(runStart)
	log.Debugf("poller: fetch window %s to %s", windowStart, windowEnd)

	cred, err := p.catalog.Credentials(pair.Tenant, pair.Vendor)
	if err != nil {
		log.WithError(err).Error("poller: credentials lookup failed")
		return
	}

	adapter, err := p.registry.For(pair.Tenant, pair.Vendor)
	if err != nil {
		log.WithError(err).Error("poller: no adapter registered")
		return
	}

	serials, err := adapter.ListRobots(ctx, cred)
	if err != nil {
		log.WithError(err).Error("poller: list robots failed")
		return
	}

	states, taskRecords, charging, events := p.fetchAll(ctx, adapter, cred, serials, windowStart, windowEnd, log)

	locations, err := adapter.FetchLocations(ctx, cred)
	if err != nil {
		log.WithError(err).Warn("poller: fetch locations failed")
	}

	byDBSerials, unknownSerials := routing.Partition(p.router, serials, func(s string) string { return s })
	if len(unknownSerials) > 0 {
		log.Warnf("poller: %d serial(s) not present in any configured database", len(unknownSerials))
	}

	p.dispatchStates(ctx, states, log)
	p.dispatchTasks(ctx, taskRecords, log)
	p.dispatchCharging(ctx, charging, log)
	p.dispatchEvents(ctx, events, log)
	p.dispatchLocations(ctx, byDBSerials, locations, log)
	p.sweepTasks(ctx, byDBSerials, log)
}

// fetchAll fetches state per serial and tasks/charging/events tenant-wide,
// all concurrently (spec.md §4.E step 2: "fetch in parallel"); processing
// order is enforced afterward by the dispatch* helpers, not here.
//
// Only FetchState is a per-serial capability (spec.md §4.A): there is no
// tenant-wide "current state of every robot" endpoint, so it is still
// fanned out one HTTP call per serial. FetchTasks/FetchCharging/FetchEvents
// are each a single windowed, tenant-wide call covering every robot at
// once (spec.md §2 point 3's "one API call... cover as many robots as
// possible"), not one call per serial.
func (p *Poller) fetchAll(ctx context.Context, adapter vendor.Adapter, cred catalog.Credentials, serials []string, windowStart, windowEnd time.Time, log *logrus.Entry) ([]model.RobotState, []model.Task, []model.ChargingSession, []model.Event) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		states   []model.RobotState
		tasksOut []model.Task
		charging []model.ChargingSession
		events   []model.Event
	)

	for _, serial := range serials {
		serial := serial
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := adapter.FetchState(ctx, cred, serial)
			if err != nil {
				log.WithError(err).Warnf("poller: fetch state failed for %s", serial)
				return
			}
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		ts, err := adapter.FetchTasks(ctx, cred, windowStart, windowEnd)
		if err != nil {
			log.WithError(err).Warn("poller: fetch tasks failed")
			return
		}
		mu.Lock()
		tasksOut = append(tasksOut, ts...)
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		cs, err := adapter.FetchCharging(ctx, cred, windowStart, windowEnd)
		if err != nil {
			log.WithError(err).Warn("poller: fetch charging failed")
			return
		}
		mu.Lock()
		charging = append(charging, cs...)
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		es, err := adapter.FetchEvents(ctx, cred, windowStart, windowEnd)
		if err != nil {
			log.WithError(err).Warn("poller: fetch events failed")
			return
		}
		mu.Lock()
		events = append(events, es...)
		mu.Unlock()
	}()

	wg.Wait()

	return states, tasksOut, charging, events
}

func (p *Poller) dispatchStates(ctx context.Context, states []model.RobotState, log *logrus.Entry) {
	for _, s := range states {
		if err := p.dispatch.RobotState(ctx, s); err != nil {
			log.WithError(err).Warnf("poller: dispatch robot state failed for %s", s.Serial)
		}
	}
}

func (p *Poller) dispatchTasks(ctx context.Context, records []model.Task, log *logrus.Entry) {
	for _, t := range records {
		if err := p.dispatch.Task(ctx, t); err != nil {
			log.WithError(err).Warnf("poller: dispatch task failed for %s", t.Serial)
		}
	}
}

func (p *Poller) dispatchCharging(ctx context.Context, records []model.ChargingSession, log *logrus.Entry) {
	for _, c := range records {
		if err := p.dispatch.ChargingSession(ctx, c); err != nil {
			log.WithError(err).Warnf("poller: dispatch charging session failed for %s", c.Serial)
		}
	}
}

func (p *Poller) dispatchEvents(ctx context.Context, records []model.Event, log *logrus.Entry) {
	for _, e := range records {
		if err := p.dispatch.Event(ctx, e); err != nil {
			log.WithError(err).Warnf("poller: dispatch event failed for %s", e.Serial)
		}
	}
}

// dispatchLocations writes every fetched location into each database this
// tenant's serials route to. A tenant's locations describe the buildings
// its own robots operate in, not a separate per-serial entity, so there is
// no serial to route by the way there is for the other four kinds; the
// tenant's own serial partition stands in for that routing decision.
func (p *Poller) dispatchLocations(ctx context.Context, byDBSerials map[string][]string, locations []model.Location, log *logrus.Entry) {
	for database := range byDBSerials {
		for _, l := range locations {
			if err := p.dispatch.Location(ctx, database, l); err != nil {
				log.WithError(err).Warnf("poller: dispatch location failed for %s in %s", l.BuildingID, database)
			}
		}
	}
}

func (p *Poller) sweepTasks(ctx context.Context, byDBSerials map[string][]string, log *logrus.Entry) {
	for database, serials := range byDBSerials {
		known := make(map[string]bool, len(serials))
		for _, s := range serials {
			known[s] = true
		}
		if _, err := p.dispatch.SweepTasks(ctx, database, known); err != nil {
			log.WithError(err).Warnf("poller: task sweep failed for %s", database)
		}
	}
}
