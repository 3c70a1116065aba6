package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

const (
	maxStockRetryAttempts = 3
	defaultRetryBackoff   = 25 * time.Millisecond
)

// ReleaseQueue keeps stock releases that still failed after the bounded in-request retries and
// replays them until the ledger accepts them. Entries are held in process memory.
type ReleaseQueue struct {
	inventory InventoryService
	logger    func(context.Context, string, map[string]any)

	mu      sync.Mutex
	pending []StockCommand
}

// NewReleaseQueue constructs a queue replaying releases against inventory.
func NewReleaseQueue(inventory InventoryService, logger func(context.Context, string, map[string]any)) (*ReleaseQueue, error) {
	if inventory == nil {
		return nil, errors.New("release queue: inventory service is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ReleaseQueue{inventory: inventory, logger: logger}, nil
}

// Enqueue records releases for a later Drain.
func (q *ReleaseQueue) Enqueue(ctx context.Context, cmds ...StockCommand) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, cmds...)
	size := len(q.pending)
	q.mu.Unlock()

	for _, cmd := range cmds {
		q.logger(ctx, "inventory.release.queued", map[string]any{
			"orderId":   cmd.OrderID,
			"productId": cmd.ProductID,
			"quantity":  cmd.Quantity,
			"reason":    cmd.Reason,
			"pending":   size,
		})
	}
}

// Pending returns a copy of the queued releases.
func (q *ReleaseQueue) Pending() []StockCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.pending)
}

// Drain attempts every queued release once. Releases for deleted products or with invalid
// quantities can never succeed and are dropped; other failures stay queued.
func (q *ReleaseQueue) Drain(ctx context.Context) (released int, remaining int) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	var retry []StockCommand
	for i, cmd := range batch {
		if ctx.Err() != nil {
			retry = append(retry, batch[i:]...)
			break
		}
		_, err := q.inventory.Release(ctx, cmd)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrInventoryInvalidInput):
			q.logger(ctx, "inventory.release.skipped", map[string]any{
				"orderId":   cmd.OrderID,
				"productId": cmd.ProductID,
				"quantity":  cmd.Quantity,
				"error":     err.Error(),
			})
		default:
			retry = append(retry, cmd)
		}
	}

	q.mu.Lock()
	q.pending = append(retry, q.pending...)
	remaining = len(q.pending)
	q.mu.Unlock()
	return released, remaining
}

// Run drains the queue every interval until ctx is cancelled. A non-positive interval disables it.
func (q *ReleaseQueue) Run(ctx context.Context, interval time.Duration) {
	if q == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, remaining := q.Drain(ctx)
			if released > 0 || remaining > 0 {
				q.logger(ctx, "inventory.release.retried", map[string]any{"released": released, "remaining": remaining})
			}
		}
	}
}

// retryStock runs op up to maxStockRetryAttempts times while it fails with an error that a retry
// can fix. Business rejections and context errors return immediately.
func retryStock(ctx context.Context, backoff time.Duration, op func(context.Context, StockCommand) (StockLevel, error), cmd StockCommand) (StockLevel, error) {
	var lastErr error
	for attempt := 1; attempt <= maxStockRetryAttempts; attempt++ {
		level, err := op(ctx, cmd)
		if err == nil || !retryableStockError(err) {
			return level, err
		}
		lastErr = err
		if attempt == maxStockRetryAttempts {
			break
		}
		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return StockLevel{}, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return StockLevel{}, lastErr
}

func retryableStockError(err error) bool {
	switch {
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInventoryInvalidInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
