// Package metrics exposes Prometheus counters fed by the service event bus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"balloon-go/internal/balloon"
)

// Listener counts completed operations as they are published on the bus.
type Listener struct {
	// OperationsTotal counts after-phase events: balloon_operations_total{kind}
	OperationsTotal *prometheus.CounterVec
	// StartedTotal counts before-phase events: balloon_operations_started_total{kind}
	StartedTotal *prometheus.CounterVec
	// BytesWritten sums the size of new content: balloon_bytes_written_total
	BytesWritten prometheus.Counter
	// SubtreeEvents counts after-phase events belonging to a recursive
	// operation: balloon_subtree_events_total{kind}
	SubtreeEvents *prometheus.CounterVec
}

// NewListener registers the counters with registry. A nil registry uses the
// default registerer.
func NewListener(registry prometheus.Registerer) *Listener {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	l := &Listener{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "balloon_operations_total",
			Help: "Completed operations by event kind",
		}, []string{"kind"}),
		StartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "balloon_operations_started_total",
			Help: "Operations that reached their before phase, by event kind",
		}, []string{"kind"}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "balloon_bytes_written_total",
			Help: "Bytes of content accepted by put operations",
		}),
		SubtreeEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "balloon_subtree_events_total",
			Help: "Events emitted by recursive collection operations, by event kind",
		}, []string{"kind"}),
	}
	// Pre-create series so every kind is exported at zero.
	for _, k := range balloon.EventKinds() {
		l.OperationsTotal.WithLabelValues(k.String())
		l.StartedTotal.WithLabelValues(k.String())
	}
	return l
}

// Attach subscribes the listener to every event kind on bus.
func (l *Listener) Attach(bus *balloon.Bus) {
	bus.SubscribeAll(balloon.Observer(l.observe))
}

func (l *Listener) observe(_ context.Context, ev balloon.Event) {
	kind := ev.Kind.String()
	if ev.Phase == balloon.PhaseBefore {
		l.StartedTotal.WithLabelValues(kind).Inc()
		return
	}
	l.OperationsTotal.WithLabelValues(kind).Inc()
	if p, ok := ev.Payload.(balloon.PutPayload); ok && p.Size > 0 {
		l.BytesWritten.Add(float64(p.Size))
	}
	if ev.RecursionID != "" {
		l.SubtreeEvents.WithLabelValues(kind).Inc()
	}
}
