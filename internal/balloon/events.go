package balloon

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventKind names the extension points the Service publishes.
type EventKind int

const (
	EventPut EventKind = iota + 1
	EventRestore
	EventDelete
	EventUndelete
	EventCopyFile
	EventCopyCollection
	EventMove
	EventCreateFile
	EventCreateCollection
	EventSaveAttributes
	EventRename
)

var eventKindNames = map[EventKind]string{
	EventPut:              "put",
	EventRestore:          "restore",
	EventDelete:           "delete",
	EventUndelete:         "undelete",
	EventCopyFile:         "copy_file",
	EventCopyCollection:   "copy_collection",
	EventMove:             "move",
	EventCreateFile:       "create_file",
	EventCreateCollection: "create_collection",
	EventSaveAttributes:   "save_attributes",
	EventRename:           "rename",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// EventKinds lists every kind, in declaration order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventKindNames))
	for k := EventPut; k <= EventRename; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Phase tells whether an event precedes validation or follows persistence.
type Phase int

const (
	PhaseBefore Phase = iota + 1
	PhaseAfter
)

func (p Phase) String() string {
	if p == PhaseBefore {
		return "before"
	}
	return "after"
}

// Payload is implemented by the typed parameter sets of each event kind.
type Payload interface {
	isPayload()
}

// PutPayload accompanies EventPut. Attributes may be replaced by a listener.
type PutPayload struct {
	Size       int64
	Digest     string
	Attributes Attributes
}

// RestorePayload accompanies EventRestore.
type RestorePayload struct {
	Version int
}

// DeletePayload accompanies EventDelete. Policy may be replaced by a listener.
type DeletePayload struct {
	Policy DeletionPolicy
}

// UndeletePayload accompanies EventUndelete.
type UndeletePayload struct {
	Mode ConflictMode
}

// CopyPayload accompanies EventCopyFile and EventCopyCollection.
// TargetParentID, Name and Mode may be replaced by a listener.
type CopyPayload struct {
	TargetParentID string
	Name           string
	Mode           ConflictMode
	// NewNodeID is set on the after phase.
	NewNodeID string
}

// MovePayload accompanies EventMove. TargetParentID, Name and Mode may be
// replaced.
type MovePayload struct {
	TargetParentID string
	Name           string
	Mode           ConflictMode
}

// CreatePayload accompanies EventCreateFile and EventCreateCollection.
type CreatePayload struct {
	ParentID   string
	Name       string
	Mode       ConflictMode
	Attributes Attributes
}

// AttributesPayload accompanies EventSaveAttributes.
type AttributesPayload struct {
	Attributes Attributes
}

// RenamePayload accompanies EventRename.
type RenamePayload struct {
	Name string
	Mode ConflictMode
}

func (PutPayload) isPayload()        {}
func (RestorePayload) isPayload()    {}
func (DeletePayload) isPayload()     {}
func (UndeletePayload) isPayload()   {}
func (CopyPayload) isPayload()       {}
func (MovePayload) isPayload()       {}
func (CreatePayload) isPayload()     {}
func (AttributesPayload) isPayload() {}
func (RenamePayload) isPayload()     {}

// Event is a single publication on the bus.
type Event struct {
	Kind   EventKind
	Phase  Phase
	UserID string
	NodeID string
	// RecursionID correlates every event emitted by one subtree operation.
	RecursionID string
	Payload     Payload
}

// Publisher is the only capability the Service needs from the hook system.
// For PhaseBefore the returned event replaces the published one and an error
// vetoes the operation. For PhaseAfter the result is ignored.
type Publisher interface {
	Publish(ctx context.Context, ev Event) (Event, error)
}

// NopPublisher returns every event unchanged.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, ev Event) (Event, error) { return ev, nil }

// Listener handles an event and returns it, possibly modified.
type Listener func(ctx context.Context, ev Event) (Event, error)

// Observer adapts a function that only watches events into a Listener.
func Observer(fn func(ctx context.Context, ev Event)) Listener {
	return func(ctx context.Context, ev Event) (Event, error) {
		fn(ctx, ev)
		return ev, nil
	}
}

// Bus is an in-process Publisher dispatching to subscribed listeners in
// subscription order. Each listener receives the output of the previous one.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
	any       []Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[EventKind][]Listener)}
}

// Subscribe registers l for one kind.
func (b *Bus) Subscribe(kind EventKind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[kind] = append(b.listeners[kind], l)
}

// SubscribeAll registers l for every kind.
func (b *Bus) SubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, l)
}

func (b *Bus) Publish(ctx context.Context, ev Event) (Event, error) {
	b.mu.RLock()
	chain := make([]Listener, 0, len(b.any)+len(b.listeners[ev.Kind]))
	chain = append(chain, b.any...)
	chain = append(chain, b.listeners[ev.Kind]...)
	b.mu.RUnlock()

	for _, l := range chain {
		out, err := l(ctx, ev)
		if err != nil {
			return ev, err
		}
		if out.Payload == nil {
			out.Payload = ev.Payload
		}
		ev = out
	}
	return ev, nil
}

// before publishes the pre-phase event and returns the payload a listener
// may have replaced.
func before[T Payload](ctx context.Context, s *Service, kind EventKind, nodeID, recursionID string, payload T) (T, error) {
	user, _ := UserFrom(ctx)
	ev, err := s.events.Publish(ctx, Event{
		Kind: kind, Phase: PhaseBefore, UserID: user, NodeID: nodeID,
		RecursionID: recursionID, Payload: payload,
	})
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			return payload, err
		}
		return payload, &Error{Code: CodeForbidden, Op: kind.String(), NodeID: nodeID, Message: "vetoed by listener", Err: err}
	}
	out, ok := ev.Payload.(T)
	if !ok {
		return payload, fmt.Errorf("%s listener returned %T, want %T", kind, ev.Payload, payload)
	}
	return out, nil
}

// after publishes the post-phase event. Listener errors are logged.
func (s *Service) after(ctx context.Context, kind EventKind, nodeID, recursionID string, payload Payload) {
	user, _ := UserFrom(ctx)
	s.publishAfter(ctx, Event{
		Kind: kind, Phase: PhaseAfter, UserID: user, NodeID: nodeID,
		RecursionID: recursionID, Payload: payload,
	})
}

func (s *Service) publishAfter(ctx context.Context, ev Event) {
	ev.Phase = PhaseAfter
	if _, err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("after listener failed", "event", ev.Kind.String(), "node", ev.NodeID, "error", err)
	}
}
