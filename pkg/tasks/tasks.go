// Package tasks implements the Task Lifecycle Manager (spec.md §4.K): it
// runs after the Persistence Writer has applied a batch of Task records,
// promoting each ongoing task into the ongoing-tasks staging table and
// each completed one into the tasks table (removing its ongoing row), and
// periodically sweeps stale ongoing rows. It never touches the database
// directly — that would violate the "only the Persistence Writer mutates
// the durable store" ownership rule (spec.md §3) — it only calls through
// the narrow Store interface pkg/store.Writer implements.
package tasks

import (
	"context"
	"time"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

// DefaultMaxOngoingAge is the default maximum age of an ongoing-task row
// before the sweep considers it stale (spec.md §4.K).
const DefaultMaxOngoingAge = 24 * time.Hour

// Store is the narrow persistence surface the lifecycle manager needs.
type Store interface {
	PromoteTask(ctx context.Context, database string, t model.Task) error
	SweepOngoingTasks(ctx context.Context, database string, knownSerials map[string]bool, maxAge time.Duration) (int, error)
}

// Manager applies spec.md §4.K over one database's Task batches.
type Manager struct {
	store  Store
	maxAge time.Duration
}

func New(store Store) *Manager {
	return &Manager{store: store, maxAge: DefaultMaxOngoingAge}
}

// WithMaxAge overrides the sweep's maximum ongoing-task age.
func (m *Manager) WithMaxAge(d time.Duration) *Manager {
	m.maxAge = d
	return m
}

// ApplyBatch promotes every task in a just-written batch: an ongoing task
// into the ongoing-tasks staging table, a completed one into the tasks
// table with its ongoing row removed (spec.md §4.K steps 1-2). Errors for
// individual tasks are returned collected rather than aborting the whole
// batch, so one bad row does not block its siblings (spec.md §7's
// containment policy).
func (m *Manager) ApplyBatch(ctx context.Context, database string, batch []model.Task) []error {
	var errs []error
	for _, t := range batch {
		if err := m.store.PromoteTask(ctx, database, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Sweep runs the periodic stale-row cleanup (spec.md §4.K step 3).
// knownSerials should be every serial currently enabled across the
// tenant catalog for the vendors feeding this database.
func (m *Manager) Sweep(ctx context.Context, database string, knownSerials map[string]bool) (int, error) {
	return m.store.SweepOngoingTasks(ctx, database, knownSerials, m.maxAge)
}
