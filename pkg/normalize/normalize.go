// Package normalize implements the Normalizer (spec.md §4.G): the single
// place that enforces the data-model invariants of spec.md §3 before a
// record is allowed into the change-detection/write pipeline. Unit
// conversion (ms→s, liters→ml, battery_usage) already happened inside the
// vendor adapters' field mappings (pkg/vendor/mapping); this package's job
// is invariant enforcement and the drop-with-single-line-log contract.
package normalize

import (
	"fmt"

	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
)

// Dropped describes one record rejected by invariant enforcement, for the
// caller to log as a single line carrying serial and reason (spec.md §4.G).
type Dropped struct {
	Kind   model.Kind
	Serial string
	Reason string
}

func (d Dropped) Error() string {
	return fmt.Sprintf("dropped %s serial=%s: %s", d.Kind, d.Serial, d.Reason)
}

// Normalizer enforces invariants against the routing table (for the
// serial-resolves-to-a-tenant invariant) and returns either the validated
// record or an error describing why it was rejected. A serial the routing
// table has never heard of is returned as-is from routing.Resolver.Route,
// carrying ferrors.KindUnknownSerial, so callers (the webhook ingress) can
// tell "unknown serial" apart from every other invariant violation, which
// come back as Dropped.
type Normalizer struct {
	router *routing.Resolver
}

func New(router *routing.Resolver) *Normalizer {
	return &Normalizer{router: router}
}

// RobotState validates invariant 1 (serial resolves to a tenant) and
// invariant 4 (battery in [0,100]).
func (n *Normalizer) RobotState(s model.RobotState) (model.RobotState, error) {
	if s.Serial == "" {
		return model.RobotState{}, Dropped{Kind: model.KindRobotState, Reason: "empty serial"}
	}
	if _, err := n.router.Route(s.Serial); err != nil {
		return model.RobotState{}, err
	}
	if s.Battery < 0 || s.Battery > 100 {
		return model.RobotState{}, Dropped{Kind: model.KindRobotState, Serial: s.Serial,
			Reason: fmt.Sprintf("battery %d out of range [0,100]", s.Battery)}
	}
	return s, nil
}

// Task validates invariant 1 and the non-coexistence of ongoing/completed
// rows is left to the Task Lifecycle Manager (pkg/tasks), which owns that
// transition atomically.
func (n *Normalizer) Task(t model.Task) (model.Task, error) {
	if t.Serial == "" {
		return model.Task{}, Dropped{Kind: model.KindTask, Reason: "empty serial"}
	}
	if _, err := n.router.Route(t.Serial); err != nil {
		return model.Task{}, err
	}
	if t.Name == "" || t.StartTime == 0 {
		return model.Task{}, Dropped{Kind: model.KindTask, Serial: t.Serial, Reason: "missing primary key component (name or start_time)"}
	}
	return t, nil
}

// ChargingSession validates invariant 1 and that both battery readings are
// in range.
func (n *Normalizer) ChargingSession(c model.ChargingSession) (model.ChargingSession, error) {
	if c.Serial == "" {
		return model.ChargingSession{}, Dropped{Kind: model.KindCharging, Reason: "empty serial"}
	}
	if _, err := n.router.Route(c.Serial); err != nil {
		return model.ChargingSession{}, err
	}
	if c.InitialBattery < 0 || c.InitialBattery > 100 || c.FinalBattery < 0 || c.FinalBattery > 100 {
		return model.ChargingSession{}, Dropped{Kind: model.KindCharging, Serial: c.Serial, Reason: "battery reading out of range [0,100]"}
	}
	return c, nil
}

// Event validates invariant 1 and that the event carries a key.
func (n *Normalizer) Event(e model.Event) (model.Event, error) {
	if e.Serial == "" {
		return model.Event{}, Dropped{Kind: model.KindEvent, Reason: "empty serial"}
	}
	if _, err := n.router.Route(e.Serial); err != nil {
		return model.Event{}, err
	}
	if e.EventID == "" {
		return model.Event{}, Dropped{Kind: model.KindEvent, Serial: e.Serial, Reason: "missing event_id"}
	}
	return e, nil
}

// Location validates only that it carries a building identity; locations
// are not serial-scoped so invariant 1 does not apply.
func (n *Normalizer) Location(l model.Location) (model.Location, error) {
	if l.BuildingID == "" {
		return model.Location{}, Dropped{Kind: model.KindLocation, Reason: "empty building_id"}
	}
	return l, nil
}
