package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
)

// Monitor periodically pushes a probe through the outbound queue and
// reports ErrQueueWedged if the dispatcher does not consume it in time.
type Monitor struct {
	out      *queue.Queue
	acks     <-chan struct{}
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

// NewMonitor creates a monitor. acks must signal each consumed probe.
func NewMonitor(out *queue.Queue, acks <-chan struct{}, interval, timeout time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Monitor{out: out, acks: acks, interval: interval, timeout: timeout, log: log}
}

// Run probes the queue every interval until ctx is cancelled (nil) or a
// probe goes unanswered (ErrQueueWedged).
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := m.probe(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error("queue liveness probe failed", "queued", m.out.Len(), "timeout", m.timeout)
			return err
		}
	}
}

func (m *Monitor) probe(ctx context.Context) error {
	select {
	case <-m.acks:
	default:
	}

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.out.Put(pctx, queue.Probe()); err != nil {
		return ErrQueueWedged
	}
	select {
	case <-m.acks:
		return nil
	case <-pctx.Done():
		return ErrQueueWedged
	}
}
