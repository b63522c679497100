package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Watchdog runs a task and checks on every tick whether it is still alive.
// A task that has returned while the watchdog's context is live is started
// again.
type Watchdog struct {
	name     string
	task     func(ctx context.Context) error
	interval time.Duration
	log      *slog.Logger

	restarts atomic.Uint64
}

// NewWatchdog creates a watchdog for task.
func NewWatchdog(name string, task func(ctx context.Context) error, interval time.Duration, log *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watchdog{name: name, task: task, interval: interval, log: log}
}

// Restarts returns how many times the task has been restarted.
func (w *Watchdog) Restarts() uint64 {
	return w.restarts.Load()
}

// Run starts the task and supervises it until ctx is cancelled. It waits
// for the running task to return before returning itself.
func (w *Watchdog) Run(ctx context.Context) error {
	done := w.start(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.C:
			select {
			case err := <-done:
				if ctx.Err() != nil {
					return nil
				}
				w.restarts.Add(1)
				w.log.Warn("task died, restarting", "task", w.name, "error", err, "restarts", w.restarts.Load())
				done = w.start(ctx)
			default:
			}
		}
	}
}

func (w *Watchdog) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("bridge: %s panic: %v", w.name, r)
			}
		}()
		done <- w.task(ctx)
	}()
	return done
}
