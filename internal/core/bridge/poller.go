// Package bridge connects the hub to the relay: the poller turns hub state
// into change events, the watchdog keeps the poller alive and the executor
// runs client commands against the hub.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

// Fetcher reads the hub's full state.
type Fetcher interface {
	GetObject(ctx context.Context, path string) (document.Map, error)
}

// PollStats is a point-in-time view of poller activity.
type PollStats struct {
	Polls    uint64    `json:"polls"`
	Failures uint64    `json:"failures"`
	Events   uint64    `json:"events"`
	LastPoll time.Time `json:"last_poll"`
}

// Poller periodically fetches hub state, diffs it against the store and
// queues a notification for every change.
type Poller struct {
	hub      Fetcher
	store    *state.Store
	out      *queue.Queue
	interval time.Duration
	log      *slog.Logger

	polls    atomic.Uint64
	failures atomic.Uint64
	events   atomic.Uint64
	lastPoll atomic.Int64
}

// NewPoller creates a poller that fetches every interval.
func NewPoller(hub Fetcher, store *state.Store, out *queue.Queue, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{hub: hub, store: store, out: out, interval: interval, log: log}
}

// Run polls until ctx is cancelled. Fetch and processing failures are
// logged and the next cycle runs after the normal interval. A panic ends
// Run with an error so that a watchdog can start a fresh poller.
func (p *Poller) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge: poller panic: %v", r)
		}
	}()

	p.log.Info("poller started", "interval", p.interval)
	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.failures.Add(1)
			p.log.Warn("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-time.After(p.interval):
		}
	}
}

// Poll runs one fetch-diff-enqueue cycle and returns the number of events
// queued.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	fresh, err := p.hub.GetObject(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("bridge: fetch state: %w", err)
	}
	p.polls.Add(1)
	p.lastPoll.Store(time.Now().UnixNano())

	events := p.store.ApplyPoll(fresh)
	for _, evt := range events {
		msg, err := queue.Notify(evt)
		if err != nil {
			p.log.Warn("dropping unencodable event", "category", evt.Category, "id", evt.ID, "error", err)
			continue
		}
		if err := p.out.Put(ctx, msg); err != nil {
			return 0, err
		}
		p.events.Add(1)
	}
	if len(events) > 0 {
		p.log.Debug("poll produced events", "count", len(events))
	}
	return len(events), nil
}

// Stats returns poller counters.
func (p *Poller) Stats() PollStats {
	s := PollStats{
		Polls:    p.polls.Load(),
		Failures: p.failures.Load(),
		Events:   p.events.Load(),
	}
	if ns := p.lastPoll.Load(); ns != 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	return s
}
