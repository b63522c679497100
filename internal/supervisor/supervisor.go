// Package supervisor reruns the relay after recoverable failures.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config bounds restarts.
type Config struct {
	// MaxRestarts is the number of restarts allowed before giving up.
	MaxRestarts int
	// RestartDelay is the wait before the first restart. It doubles after
	// every consecutive failure.
	RestartDelay time.Duration
	// MaxDelay caps the doubled delay. Zero means no cap.
	MaxDelay time.Duration
	// StableAfter resets the delay when a run lasted at least this long.
	// Zero disables the reset.
	StableAfter time.Duration
}

// Run calls fn until it returns nil (terminal shutdown), ctx is cancelled
// or the restart budget is spent. Every error return from fn counts as a
// failure and triggers a restart after the current delay.
func Run(ctx context.Context, cfg Config, log *slog.Logger, fn func(ctx context.Context) error) error {
	base := cfg.RestartDelay
	if base <= 0 {
		base = time.Second
	}
	delay := base

	for restarts := 0; ; restarts++ {
		started := time.Now()
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if restarts >= cfg.MaxRestarts {
			return fmt.Errorf("supervisor: giving up after %d restarts: %w", restarts, err)
		}
		if cfg.StableAfter > 0 && time.Since(started) >= cfg.StableAfter {
			delay = base
		}

		log.Warn("relay stopped, restarting",
			"error", err,
			"restart_in", delay,
			"restarts_left", cfg.MaxRestarts-restarts-1,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		log.Info("restarting relay")
	}
}
