package idempotency

import (
	"context"
	"time"
)

// CleanupOptions configures the expired record sweeper.
type CleanupOptions struct {
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Logger    Logger
}

// RunCleanup sweeps expired records every Interval until ctx is cancelled. Each tick drains full
// batches before sleeping again.
func RunCleanup(ctx context.Context, store Store, opts CleanupOptions) {
	if store == nil || opts.Interval <= 0 {
		return
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupLimit
	}
	if opts.Logger == nil {
		opts.Logger = func(context.Context, string, map[string]any) {}
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweep(ctx, store, opts)
			if err != nil {
				opts.Logger(ctx, "idempotency.cleanup.failed", map[string]any{"error": err.Error(), "removed": removed})
				continue
			}
			if removed > 0 {
				opts.Logger(ctx, "idempotency.cleanup", map[string]any{"removed": removed})
			}
		}
	}
}

func sweep(ctx context.Context, store Store, opts CleanupOptions) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, opts.Clock().UTC(), opts.BatchSize)
		total += removed
		if err != nil || removed < opts.BatchSize || ctx.Err() != nil {
			return total, err
		}
	}
}
