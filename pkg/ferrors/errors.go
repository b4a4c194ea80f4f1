// Package ferrors is the ingestion core's error taxonomy. Every stage
// boundary (fetch, normalize, detect, write, notify) returns errors tagged
// with one of these kinds so that callers can apply spec.md §7's
// containment policy without string-matching error text.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies where and how an error should be handled.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindTransient     Kind = "transient"
	KindMalformed     Kind = "malformed"
	KindUnsupported   Kind = "unsupported"
	KindCancelled     Kind = "cancelled"
	KindInvariant     Kind = "invariant"
	KindUnknownSerial Kind = "unknown_serial"
	KindConfig        Kind = "config"
	KindPermanent     Kind = "permanent"
)

// Error wraps a cause with a Kind for classification at stage boundaries.
type Error struct {
	Kind   Kind
	Op     string // the operation that failed, e.g. "fetch_tasks"
	Serial string // optional, populated when the error concerns one robot
	Err    error
}

func (e *Error) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("%s[%s]: serial=%s: %v", e.Op, e.Kind, e.Serial, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithSerial attaches a robot serial for log correlation.
func (e *Error) WithSerial(serial string) *Error {
	e.Serial = serial
	return e
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindPermanent when err
// is not a tagged *Error (an untagged error is treated as non-retriable).
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindPermanent
}

// Retriable reports whether a failure of this kind should be retried by
// the caller's backoff policy (spec.md §4.A, §4.I).
func (k Kind) Retriable() bool {
	return k == KindTransient
}
