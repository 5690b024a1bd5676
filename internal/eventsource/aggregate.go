// Package eventsource holds the aggregate root base and the event stream contract
// shared by event-sourced aggregates.
package eventsource

import "fmt"

// Event is implemented by every domain event folded by an aggregate.
type Event interface {
	EventType() string
}

// Version is the optimistic concurrency token of a stream: the number of events
// already persisted. A fresh stream is at NoStream.
type Version int64

// NoStream is the expected version for the first append to a stream.
const NoStream Version = 0

// Next returns the version following v.
func (v Version) Next() Version { return v + 1 }

// UnknownEventError is raised (as a panic value) when an aggregate's fold receives
// an event variant it does not handle. It signals a deployed-code/event-schema
// mismatch and must never be recovered into a normal error path.
type UnknownEventError struct {
	Aggregate string
	Event     any
}

func (e UnknownEventError) Error() string {
	return fmt.Sprintf("eventsource: %s cannot fold event %T", e.Aggregate, e.Event)
}

// Root tracks version and uncommitted events for an aggregate whose events
// implement E. The owning aggregate binds its fold function with Bind before use.
type Root[E Event] struct {
	version Version
	changes []E
	fold    func(E)
}

// Bind installs the aggregate's fold function.
func (r *Root[E]) Bind(fold func(E)) {
	r.fold = fold
}

// Raise records a new event: buffered as uncommitted, folded into state and
// counted in the version.
func (r *Root[E]) Raise(event E) {
	r.changes = append(r.changes, event)
	r.mustFold(event)
	r.version++
}

// LoadFromHistory folds already-persisted events without buffering them.
func (r *Root[E]) LoadFromHistory(events []E) {
	for _, event := range events {
		r.mustFold(event)
		r.version++
	}
}

// UncommittedEvents returns a copy of the events raised since the last commit.
func (r *Root[E]) UncommittedEvents() []E {
	out := make([]E, len(r.changes))
	copy(out, r.changes)
	return out
}

// MarkEventsAsCommitted drops the uncommitted buffer after a successful append.
func (r *Root[E]) MarkEventsAsCommitted() {
	r.changes = nil
}

// ClearEvents discards uncommitted events without touching version or state.
// Callers use it after a failed save before reloading the aggregate.
func (r *Root[E]) ClearEvents() {
	r.changes = nil
}

// Version is the number of events folded so far, persisted or not.
func (r *Root[E]) Version() Version {
	return r.version
}

// CommittedVersion is the version the stream had when the aggregate was loaded,
// i.e. the expected version for appending the uncommitted events.
func (r *Root[E]) CommittedVersion() Version {
	return r.version - Version(len(r.changes))
}

func (r *Root[E]) mustFold(event E) {
	if r.fold == nil {
		panic("eventsource: aggregate root used before Bind")
	}
	r.fold(event)
}
