// Package routing implements the Database-Routing Resolver (spec.md §4.D):
// it loads a `database -> [serials]` document, builds the inverse index,
// and partitions robot sets by owning database — the core performance
// contract the Poller and Webhook Ingress both depend on.
package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

// Document is the on-disk shape: database id -> serials it owns.
type Document struct {
	Databases map[string][]string `yaml:"databases"`
}

// Resolver maps robot serials to the tenant database that owns them.
type Resolver struct {
	serialToDB map[string]string
	databases  []string
}

// Load reads the routing document from path and builds the resolver,
// enforcing spec.md §3's invariant that a serial belongs to at most one
// tenant database — a duplicate is a fatal configuration error.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "routing.Load", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.New(ferrors.KindConfig, "routing.Load", fmt.Errorf("parse %s: %w", path, err))
	}
	return FromDocument(doc)
}

// FromDocument builds a Resolver from an already-parsed document, enforcing
// the one-serial-one-tenant invariant.
func FromDocument(doc Document) (*Resolver, error) {
	r := &Resolver{serialToDB: make(map[string]string)}
	for db, serials := range doc.Databases {
		r.databases = append(r.databases, db)
		for _, serial := range serials {
			if existing, ok := r.serialToDB[serial]; ok {
				return nil, ferrors.New(ferrors.KindConfig, "routing.FromDocument",
					fmt.Errorf("serial %q is assigned to both database %q and %q", serial, existing, db))
			}
			r.serialToDB[serial] = db
		}
	}
	return r, nil
}

// Databases returns the configured database ids.
func (r *Resolver) Databases() []string {
	out := make([]string, len(r.databases))
	copy(out, r.databases)
	return out
}

// ErrUnknownSerial is returned by Route when a serial resolves to no
// tenant database (spec.md §4.D).
var ErrUnknownSerial = fmt.Errorf("unknown_serial")

// Route returns the database id owning serial, or ErrUnknownSerial.
func (r *Resolver) Route(serial string) (string, error) {
	db, ok := r.serialToDB[serial]
	if !ok {
		return "", ferrors.New(ferrors.KindUnknownSerial, "routing.Route", ErrUnknownSerial).WithSerial(serial)
	}
	return db, nil
}

// Known reports whether serial is present in the catalog, without the
// error-wrapping overhead of Route — used by hot paths that only need a
// boolean (e.g. the webhook ingress's early 404 check).
func (r *Resolver) Known(serial string) bool {
	_, ok := r.serialToDB[serial]
	return ok
}

// Partition groups serials is a set of database ids at most len(serials)
// in length, and at most len(r.databases) (spec.md §4.D's performance
// contract). Unknown serials are omitted from the result and returned
// separately so the caller can log/drop them per spec.md §7.
func Partition[T any](r *Resolver, items []T, serialOf func(T) string) (byDB map[string][]T, unknown []T) {
	byDB = make(map[string][]T)
	for _, item := range items {
		serial := serialOf(item)
		db, ok := r.serialToDB[serial]
		if !ok {
			unknown = append(unknown, item)
			continue
		}
		byDB[db] = append(byDB[db], item)
	}
	return byDB, unknown
}
