package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubReleaser struct {
	InventoryService
	releaseFn func(context.Context, StockCommand) (StockLevel, error)
}

func (s stubReleaser) Release(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	return s.releaseFn(ctx, cmd)
}

func TestReleaseQueueDrainKeepsRetryableFailures(t *testing.T) {
	logs := &captureLogs{}
	queue, err := NewReleaseQueue(stubReleaser{releaseFn: func(_ context.Context, cmd StockCommand) (StockLevel, error) {
		switch cmd.ProductID {
		case "gone":
			return StockLevel{}, ErrProductNotFound
		case "down":
			return StockLevel{}, errLedgerDown
		}
		return StockLevel{ProductID: cmd.ProductID}, nil
	}}, logs.log)
	if err != nil {
		t.Fatalf("NewReleaseQueue: %v", err)
	}
	ctx := context.Background()
	queue.Enqueue(ctx,
		StockCommand{ProductID: "ok", Quantity: 1},
		StockCommand{ProductID: "gone", Quantity: 1},
		StockCommand{ProductID: "down", Quantity: 2},
	)
	if !logs.has("inventory.release.queued") {
		t.Fatal("expected enqueue to be logged")
	}

	released, remaining := queue.Drain(ctx)
	if released != 1 || remaining != 1 {
		t.Fatalf("expected 1 released and 1 remaining, got %d/%d", released, remaining)
	}
	pending := queue.Pending()
	if len(pending) != 1 || pending[0].ProductID != "down" {
		t.Fatalf("expected failing release kept, got %+v", pending)
	}
	if !logs.has("inventory.release.skipped") {
		t.Fatal("expected dropped release to be logged")
	}
}

func TestReleaseQueueDrainStopsOnCancelledContext(t *testing.T) {
	calls := 0
	queue, err := NewReleaseQueue(stubReleaser{releaseFn: func(context.Context, StockCommand) (StockLevel, error) {
		calls++
		return StockLevel{}, nil
	}}, nil)
	if err != nil {
		t.Fatalf("NewReleaseQueue: %v", err)
	}
	queue.Enqueue(context.Background(), StockCommand{ProductID: "a", Quantity: 1}, StockCommand{ProductID: "b", Quantity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	released, remaining := queue.Drain(ctx)
	if released != 0 || remaining != 2 || calls != 0 {
		t.Fatalf("expected untouched queue, got released=%d remaining=%d calls=%d", released, remaining, calls)
	}
}

func TestReleaseQueueRunReplaysUntilCancelled(t *testing.T) {
	done := make(chan StockCommand, 1)
	queue, err := NewReleaseQueue(stubReleaser{releaseFn: func(_ context.Context, cmd StockCommand) (StockLevel, error) {
		done <- cmd
		return StockLevel{}, nil
	}}, nil)
	if err != nil {
		t.Fatalf("NewReleaseQueue: %v", err)
	}
	queue.Enqueue(context.Background(), StockCommand{ProductID: "p", Quantity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		queue.Run(ctx, time.Millisecond)
		close(stopped)
	}()

	select {
	case cmd := <-done:
		if cmd.ProductID != "p" {
			t.Fatalf("unexpected release %+v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("queued release was not replayed")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestReleaseQueueRunDisabledByInterval(t *testing.T) {
	queue, err := NewReleaseQueue(stubReleaser{}, nil)
	if err != nil {
		t.Fatalf("NewReleaseQueue: %v", err)
	}
	// returns immediately; a blocking Run would hang the test
	queue.Run(context.Background(), 0)
}

func TestRetryStockStopsOnBusinessRejection(t *testing.T) {
	calls := 0
	_, err := retryStock(context.Background(), time.Millisecond, func(context.Context, StockCommand) (StockLevel, error) {
		calls++
		return StockLevel{}, ErrInsufficientStock
	}, StockCommand{ProductID: "p", Quantity: 1})
	if !errors.Is(err, ErrInsufficientStock) || calls != 1 {
		t.Fatalf("expected single attempt with ErrInsufficientStock, got %v after %d", err, calls)
	}

	calls = 0
	_, err = retryStock(context.Background(), time.Millisecond, func(context.Context, StockCommand) (StockLevel, error) {
		calls++
		return StockLevel{}, errLedgerDown
	}, StockCommand{ProductID: "p", Quantity: 1})
	if err == nil || calls != maxStockRetryAttempts {
		t.Fatalf("expected %d attempts, got %d (%v)", maxStockRetryAttempts, calls, err)
	}
}

func TestNewReleaseQueueRequiresInventory(t *testing.T) {
	if _, err := NewReleaseQueue(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
