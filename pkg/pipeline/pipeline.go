// Package pipeline runs the shared G→H→I→J stage sequence (normalize,
// detect, write, notify) one record at a time. Both the webhook ingress
// and the Poller hand every record they produce through the same
// Pipeline so the stage order and error handling is defined exactly once
// rather than duplicated per entry point (spec.md §3's ownership table:
// each stage is implemented by exactly one package; this package only
// sequences calls into them).
package pipeline

import (
	"context"

	"github.com/cleanfleet/telemetry-core/pkg/changedetect"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/normalize"
	"github.com/cleanfleet/telemetry-core/pkg/notify"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
	"github.com/cleanfleet/telemetry-core/pkg/store"
	"github.com/cleanfleet/telemetry-core/pkg/tasks"
)

// Notifier is the subset of pkg/notify.Engine the pipeline drives.
type Notifier interface {
	Handle(ctx context.Context, ev notify.Event) error
}

// Pipeline wires one instance of every downstream stage. A single
// Pipeline is shared across every (tenant, vendor) worker and every
// webhook request; none of its dependencies hold per-call mutable state
// beyond what they document themselves (spec.md §5).
type Pipeline struct {
	Router     *routing.Resolver
	Normalizer *normalize.Normalizer
	Detector   *changedetect.Detector
	Store      *store.Writer
	Tasks      *tasks.Manager
	Notifier   Notifier
}

// New constructs a Pipeline from its stage dependencies.
func New(router *routing.Resolver, store *store.Writer, notifier Notifier) *Pipeline {
	return &Pipeline{
		Router:     router,
		Normalizer: normalize.New(router),
		Detector:   changedetect.New(store),
		Store:      store,
		Tasks:      tasks.New(store),
		Notifier:   notifier,
	}
}

// RobotState runs one RobotState through normalize, detect, write and
// notify. Returns a normalize.Dropped (itself an error) when the record
// is rejected before ever reaching storage, so callers can distinguish a
// validation drop from a downstream failure.
func (p *Pipeline) RobotState(ctx context.Context, s model.RobotState) error {
	s, err := p.Normalizer.RobotState(s)
	if err != nil {
		return err
	}
	database, err := p.Router.Route(s.Serial)
	if err != nil {
		return err
	}

	_, triggers, err := p.Detector.RobotState(ctx, database, s)
	if err != nil {
		return err
	}
	if _, err := p.Store.UpsertRobotStates(ctx, database, []model.RobotState{s}); err != nil {
		return err
	}
	return p.emit(ctx, database, triggers, nil)
}

// Task runs one Task through normalize, detect, write, lifecycle
// promotion and notify.
func (p *Pipeline) Task(ctx context.Context, t model.Task) error {
	t, err := p.Normalizer.Task(t)
	if err != nil {
		return err
	}
	database, err := p.Router.Route(t.Serial)
	if err != nil {
		return err
	}

	_, triggers, err := p.Detector.Task(ctx, database, t)
	if err != nil {
		return err
	}
	if _, err := p.Store.UpsertTasks(ctx, database, []model.Task{t}); err != nil {
		return err
	}
	if errs := p.Tasks.ApplyBatch(ctx, database, []model.Task{t}); len(errs) > 0 {
		return errs[0]
	}
	return p.emit(ctx, database, triggers, map[string]string{"TaskName": t.Name})
}

// ChargingSession runs one ChargingSession through normalize, detect and
// write. Charging sessions never trigger notifications (spec.md §4.J).
func (p *Pipeline) ChargingSession(ctx context.Context, c model.ChargingSession) error {
	c, err := p.Normalizer.ChargingSession(c)
	if err != nil {
		return err
	}
	database, err := p.Router.Route(c.Serial)
	if err != nil {
		return err
	}

	if _, err := p.Detector.ChargingSession(ctx, database, c); err != nil {
		return err
	}
	_, err = p.Store.UpsertChargingSessions(ctx, database, []model.ChargingSession{c})
	return err
}

// Event runs one Event through normalize, detect, write and notify.
func (p *Pipeline) Event(ctx context.Context, e model.Event) error {
	e, err := p.Normalizer.Event(e)
	if err != nil {
		return err
	}
	database, err := p.Router.Route(e.Serial)
	if err != nil {
		return err
	}

	_, triggers, err := p.Detector.Event(ctx, database, e)
	if err != nil {
		return err
	}
	if _, err := p.Store.UpsertEvents(ctx, database, []model.Event{e}); err != nil {
		return err
	}
	return p.emit(ctx, database, triggers, map[string]string{"Detail": e.Detail})
}

// Location runs one Location through normalize, detect and write.
// Locations are not serial-scoped and never trigger notifications.
func (p *Pipeline) Location(ctx context.Context, database string, l model.Location) error {
	l, err := p.Normalizer.Location(l)
	if err != nil {
		return err
	}
	if _, err := p.Detector.Location(ctx, database, l); err != nil {
		return err
	}
	_, err = p.Store.UpsertLocations(ctx, database, []model.Location{l})
	return err
}

// SweepTasks runs the periodic stale-ongoing-task cleanup for one database
// (spec.md §4.K step 3). The Poller calls this once per (tenant, database)
// pair per run, after every Task in that run's batch has been applied.
func (p *Pipeline) SweepTasks(ctx context.Context, database string, knownSerials map[string]bool) (int, error) {
	return p.Tasks.Sweep(ctx, database, knownSerials)
}

func (p *Pipeline) emit(ctx context.Context, database string, triggers []changedetect.Trigger, fields map[string]string) error {
	for _, t := range triggers {
		if err := p.Notifier.Handle(ctx, notify.Event{Trigger: t, Database: database, Fields: fields}); err != nil {
			return err
		}
	}
	return nil
}
