// Package cardevents implements the typed multicast event surface
// described in SPEC_FULL.md §9: one registration list per named event,
// fanned out synchronously in registration order on the emitting
// goroutine.
package cardevents

import "sync"

// Name identifies one of the reader's or the top-level manager's emitted
// event channels.
type Name string

const (
	EventCard    Name = "card"
	EventCardOff Name = "card.off"
	EventError   Name = "error"
	EventEnd     Name = "end"
	EventReader  Name = "reader"
)

// Dispatcher is a small typed multicast registry: On registers a
// listener for a named event, Emit calls every registered listener for
// that event, in registration order, on the caller's goroutine.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[Name][]func(any)
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[Name][]func(any))}
}

// On registers fn to be called whenever event is emitted.
func (d *Dispatcher) On(event Name, fn func(any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[event] = append(d.listeners[event], fn)
}

// Emit synchronously calls every listener registered for event, in the
// order they were registered, passing payload to each.
func (d *Dispatcher) Emit(event Name, payload any) {
	d.mu.Lock()
	fns := append([]func(any){}, d.listeners[event]...)
	d.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}
