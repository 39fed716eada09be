package testutil

import (
	"context"
	"sync"

	"balloon-go/internal/balloon"
)

// EventRecorder captures every event published on a bus.
type EventRecorder struct {
	mu     sync.Mutex
	events []balloon.Event
}

// NewRecordingBus returns a bus with a recorder subscribed to every kind.
func NewRecordingBus() (*balloon.Bus, *EventRecorder) {
	bus := balloon.NewBus()
	rec := &EventRecorder{}
	bus.SubscribeAll(balloon.Observer(rec.record))
	return bus, rec
}

func (r *EventRecorder) record(_ context.Context, ev balloon.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []balloon.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]balloon.Event(nil), r.events...)
}

// Phase returns the recorded events of one phase, in publication order.
func (r *EventRecorder) Phase(p balloon.Phase) []balloon.Event {
	var out []balloon.Event
	for _, ev := range r.Events() {
		if ev.Phase == p {
			out = append(out, ev)
		}
	}
	return out
}

// Kinds returns the kinds of the recorded events of one phase.
func (r *EventRecorder) Kinds(p balloon.Phase) []balloon.EventKind {
	var out []balloon.EventKind
	for _, ev := range r.Phase(p) {
		out = append(out, ev.Kind)
	}
	return out
}

// Reset drops everything recorded so far.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
