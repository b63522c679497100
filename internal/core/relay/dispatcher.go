package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
)

var (
	// ErrRestartRequested ends a relay run so that its supervisor rebuilds it.
	ErrRestartRequested = errors.New("relay: restart requested")
	// ErrQueueWedged ends a relay run whose outbound queue stopped draining.
	ErrQueueWedged = errors.New("relay: outbound queue is not draining")
)

// Dispatcher drains the outbound queue and fans every data message out to
// all registered clients and to the auxiliary sinks.
type Dispatcher struct {
	in       *queue.Queue
	registry *Registry
	sinks    []Sink
	probes   chan struct{}
	log      *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(in *queue.Queue, registry *Registry, sinks []Sink, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		in:       in,
		registry: registry,
		sinks:    sinks,
		probes:   make(chan struct{}, 1),
		log:      log,
	}
}

// Probes signals every liveness probe the dispatcher consumes.
func (d *Dispatcher) Probes() <-chan struct{} {
	return d.probes
}

// Delivered returns the number of data messages fanned out.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Dropped returns the number of clients dropped after a failed write.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run drains the queue until a shutdown message (nil), a restart request
// (ErrRestartRequested) or cancellation (nil).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.in.Get(ctx)
		if err != nil {
			return nil
		}

		switch msg.Kind {
		case queue.KindShutdown:
			d.log.Info("shutdown message received")
			return nil
		case queue.KindRestart:
			d.log.Info("restart message received")
			return ErrRestartRequested
		case queue.KindProbe:
			select {
			case d.probes <- struct{}{}:
			default:
			}
		case queue.KindData:
			d.fanOut(msg)
		}
	}
}

func (d *Dispatcher) fanOut(msg queue.Message) {
	for _, c := range d.registry.Snapshot() {
		if err := c.Deliver(msg); err != nil {
			d.dropped.Add(1)
			d.log.Warn("dropping client after failed write", "conn", c.ID(), "remote", c.RemoteAddr(), "error", err)
			d.registry.Remove(c.ID())
			c.Close()
		}
	}
	for _, s := range d.sinks {
		if err := s.Deliver(msg); err != nil {
			d.log.Warn("sink delivery failed", "sink", s.ID(), "error", err)
		}
	}
	d.delivered.Add(1)
}
